package core

import (
	"fmt"
	"testing"
)

func TestIDWindowAddAndContains(t *testing.T) {
	w := NewIDWindow(3)

	if !w.Add("a") {
		t.Fatalf("first add of a returned false")
	}
	if w.Add("a") {
		t.Errorf("duplicate add of a returned true")
	}
	if !w.Contains("a") {
		t.Errorf("window lost a")
	}
	if w.Len() != 1 {
		t.Errorf("len = %d, want 1", w.Len())
	}
}

func TestIDWindowEvictsOldest(t *testing.T) {
	w := NewIDWindow(3)
	for _, id := range []string{"a", "b", "c", "d"} {
		w.Add(id)
	}

	if w.Len() != 3 {
		t.Fatalf("len = %d, want 3", w.Len())
	}
	if w.Contains("a") {
		t.Errorf("oldest id a not evicted")
	}
	for _, id := range []string{"b", "c", "d"} {
		if !w.Contains(id) {
			t.Errorf("window lost %s", id)
		}
	}

	got := w.IDs()
	want := []string{"b", "c", "d"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("IDs()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestIDWindowEvictedIDCanReenter(t *testing.T) {
	w := NewIDWindow(2)
	w.Add("a")
	w.Add("b")
	w.Add("c") // evicts a

	if !w.Add("a") {
		t.Errorf("evicted id could not re-enter the window")
	}
}

func TestIDWindowUnbounded(t *testing.T) {
	w := NewIDWindow(0)
	for i := 0; i < 1000; i++ {
		w.Add(fmt.Sprintf("id-%d", i))
	}
	if w.Len() != 1000 {
		t.Errorf("unbounded window evicted: len = %d", w.Len())
	}
}
