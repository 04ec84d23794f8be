// Package alert fans operator alerts out to configured channels. The
// pipeline raises alerts on structural errors and on the poller's
// consecutive-failure escalation; when no channel is configured the
// manager is a silent no-op.
package alert

import (
	"context"
	"sync"
	"time"

	"pnl_monitor/internal/core"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

// AlertPayload carries one alert to every channel.
type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// AlertChannel delivers alerts to one destination.
type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

// AlertManager fans one alert out to all channels concurrently. Delivery
// is bounded: each channel gets its own timeout, and Alert returns once
// every channel has finished or timed out, so a Critical alert raised
// just before a fatal exit is not lost to process teardown.
type AlertManager struct {
	channels    []AlertChannel
	logger      core.ILogger
	sendTimeout time.Duration
	mu          sync.RWMutex
}

func NewAlertManager(logger core.ILogger) *AlertManager {
	return &AlertManager{
		channels:    make([]AlertChannel, 0),
		logger:      logger.WithField("component", "alert_manager"),
		sendTimeout: 10 * time.Second,
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// Alert delivers the payload to every channel. Channel failures are
// logged, never propagated; alerting must not fail the caller's tick.
func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	am.mu.RLock()
	channels := make([]AlertChannel, len(am.channels))
	copy(channels, am.channels)
	am.mu.RUnlock()

	if len(channels) == 0 {
		return
	}

	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}
	am.logger.Info("Triggering alert", "title", title, "level", level)

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(c AlertChannel) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, am.sendTimeout)
			defer cancel()
			if err := c.Send(sendCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
	wg.Wait()
}
