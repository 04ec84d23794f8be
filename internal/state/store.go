// Package state persists the engine's checkpoint as a versioned JSON
// snapshot. Writes go to a temp file, fsync, then rename, so a crash
// mid-write never leaves a half-written checkpoint. A pid lock file keeps
// a second engine instance from running against the same store.
package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pnl_monitor/internal/core"
	apperrors "pnl_monitor/pkg/errors"
)

// snapshot is the on-disk envelope: the serialized state plus a checksum
// over its bytes, so torn or bit-rotted files are detected at load.
type snapshot struct {
	Checksum string          `json:"checksum"`
	State    json.RawMessage `json:"state"`
}

// FileStore implements core.IStateStore over a single JSON file.
type FileStore struct {
	path     string
	lockPath string
	logger   core.ILogger
}

// Open acquires the store's exclusive lock and returns the store. A held
// lock is a structural error: it is never broken automatically, because a
// stale lock and a live second engine look identical from here.
func Open(path string, logger core.ILogger) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	s := &FileStore{
		path:     path,
		lockPath: path + ".lock",
		logger:   logger.WithField("component", "state_store"),
	}
	if err := s.acquireLock(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) acquireLock() error {
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			holder, _ := os.ReadFile(s.lockPath)
			return fmt.Errorf("lock file %s held by pid %s; stop that engine or remove the file if it is dead: %w",
				s.lockPath, string(holder), apperrors.ErrStateLocked)
		}
		return fmt.Errorf("create lock file: %w", err)
	}
	fmt.Fprintf(f, "%d", os.Getpid())
	return f.Close()
}

// SaveState atomically replaces the snapshot on disk. The marshaled state
// is round-trip validated before it is committed.
func (s *FileStore) SaveState(ctx context.Context, st *core.EngineState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	st.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	var check core.EngineState
	if err := json.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("state validation failed: %w", err)
	}

	sum := sha256.Sum256(data)
	envelope, err := json.Marshal(snapshot{
		Checksum: hex.EncodeToString(sum[:]),
		State:    data,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(envelope); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// LoadState reads and verifies the snapshot. A missing file returns
// (nil, nil): first run. A file that cannot be parsed or fails its
// checksum is ErrStateCorrupted, which is fatal without --reset.
func (s *FileStore) LoadState(ctx context.Context) (*core.EngineState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return ReadSnapshot(s.path)
}

// ReadSnapshot loads and verifies the snapshot at path without touching
// the store's lock. Status tooling uses it to inspect a running engine's
// checkpoint. A missing file returns (nil, nil).
func ReadSnapshot(path string) (*core.EngineState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var env snapshot
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %v: %w", path, err, apperrors.ErrStateCorrupted)
	}
	sum := sha256.Sum256(env.State)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return nil, fmt.Errorf("snapshot %s checksum mismatch: %w", path, apperrors.ErrStateCorrupted)
	}

	var st core.EngineState
	if err := json.Unmarshal(env.State, &st); err != nil {
		return nil, fmt.Errorf("parse state %s: %v: %w", path, err, apperrors.ErrStateCorrupted)
	}
	if st.Version != core.EngineStateVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d: %w",
			st.Version, core.EngineStateVersion, apperrors.ErrStateCorrupted)
	}
	if st.PositionStack == nil {
		st.PositionStack = core.PositionStack{}
	}
	return &st, nil
}

// Reset discards the persisted snapshot. The lock stays held.
func (s *FileStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	s.logger.Info("State store reset", "path", s.path)
	return nil
}

// Close releases the lock file.
func (s *FileStore) Close() error {
	if err := os.Remove(s.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
