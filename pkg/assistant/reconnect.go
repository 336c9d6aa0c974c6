package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-deskman/pkg/realtime"
)

// ensureConnected makes sure the session is ready, retrying with backoff
// up to ReconnectAttempts times.
func (o *Orchestrator) ensureConnected(ctx context.Context) error {
	if o.proto.IsReady() {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= o.cfg.ReconnectAttempts; attempt++ {
		if attempt > 1 {
			delay := o.cfg.backoff(attempt - 1)
			o.logger.Info("retrying connection", "attempt", attempt, "delay", delay)
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		if lastErr = o.connectOnce(ctx); lastErr == nil {
			o.resetReconnect()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", o.cfg.ReconnectAttempts, lastErr)
}

// connectOnce dials if needed and waits for session.updated.
func (o *Orchestrator) connectOnce(ctx context.Context) error {
	if o.proto.IsReady() {
		return nil
	}

	err := o.proto.Connect(ctx)
	if err != nil && !errors.Is(err, realtime.ErrAlreadyConnected) {
		o.metrics.RecordConnectAttempt(ctx, "failed")
		o.logger.Warn("connect failed", "error", err)
		return err
	}

	readyCtx, cancel := context.WithTimeout(ctx, o.cfg.ReadyTimeout)
	defer cancel()
	if err := o.proto.WaitReady(readyCtx); err != nil {
		o.metrics.RecordConnectAttempt(ctx, "not_ready")
		o.logger.Warn("session not ready", "error", err)
		// Reset so the next attempt dials a fresh connection.
		_ = o.proto.Close()
		return err
	}

	o.metrics.RecordConnectAttempt(ctx, "ok")
	o.logger.Info("session ready")
	return nil
}

// scheduleReconnect arms the idle-state reconnect timer with the next
// backoff delay, or gives up after ReconnectAttempts.
func (o *Orchestrator) scheduleReconnect() {
	if !o.reconnectAt.IsZero() {
		return
	}

	o.mu.Lock()
	if o.reconnects >= o.cfg.ReconnectAttempts {
		o.mu.Unlock()
		o.logger.Error("giving up on reconnecting until the next conversation request",
			"attempts", o.cfg.ReconnectAttempts)
		return
	}
	o.reconnects++
	attempt := o.reconnects
	o.mu.Unlock()

	delay := o.cfg.backoff(attempt)
	o.reconnectAt = time.Now().Add(delay)
	o.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

func (o *Orchestrator) backgroundReconnect(ctx context.Context) {
	if err := o.connectOnce(ctx); err != nil {
		if ctx.Err() == nil {
			o.scheduleReconnect()
		}
		return
	}
	o.resetReconnect()
}

func (o *Orchestrator) resetReconnect() {
	o.reconnectAt = time.Time{}
	o.mu.Lock()
	o.reconnects = 0
	o.mu.Unlock()
}
