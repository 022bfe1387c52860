package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/livetutor/internal/config"
)

// ErrReconnectExhausted is returned by [Reconnector.Run] after the last
// attempt failed.
var ErrReconnectExhausted = errors.New("app: reconnection attempts exhausted")

// Reconnector retries a connect function with exponential backoff after the
// live session failed.
type Reconnector struct {
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration

	// after is the timer source; tests replace it.
	after func(time.Duration) <-chan time.Time
}

// NewReconnector builds a Reconnector from the session.reconnect settings.
// Zero values take the config defaults.
func NewReconnector(cfg config.ReconnectConfig) *Reconnector {
	r := &Reconnector{
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
		after:      time.After,
	}
	if r.maxRetries <= 0 {
		r.maxRetries = config.DefaultMaxRetries
	}
	if r.backoff <= 0 {
		r.backoff = config.DefaultInitialBackoff
	}
	if r.maxBackoff <= 0 {
		r.maxBackoff = config.DefaultMaxBackoff
	}
	return r
}

// Run calls connect until it succeeds, ctx is done or the retry budget is
// spent. The first attempt waits one initial backoff so a failing endpoint is
// not hammered.
func (r *Reconnector) Run(ctx context.Context, connect func(context.Context) error) error {
	wait := r.backoff
	var lastErr error

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.after(wait):
		}

		slog.Info("attempting reconnection",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", wait,
		)
		lastErr = connect(ctx)
		if lastErr == nil {
			slog.Info("reconnection successful", "attempt", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("reconnection attempt failed", "attempt", attempt, "err", lastErr)

		wait = min(wait*2, r.maxBackoff)
	}

	slog.Error("reconnection failed after max retries", "max_retries", r.maxRetries)
	return fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, r.maxRetries, lastErr)
}
