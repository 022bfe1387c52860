package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/livetutor/internal/config"
)

// instantReconnector records requested waits and fires immediately.
func instantReconnector(cfg config.ReconnectConfig) (*Reconnector, *[]time.Duration) {
	r := NewReconnector(cfg)
	var waits []time.Duration
	r.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	return r, &waits
}

func TestNewReconnector_Defaults(t *testing.T) {
	t.Parallel()
	r := NewReconnector(config.ReconnectConfig{})
	if r.maxRetries != config.DefaultMaxRetries {
		t.Errorf("maxRetries = %d, want %d", r.maxRetries, config.DefaultMaxRetries)
	}
	if r.backoff != config.DefaultInitialBackoff || r.maxBackoff != config.DefaultMaxBackoff {
		t.Errorf("backoff = %v/%v, want defaults", r.backoff, r.maxBackoff)
	}
}

func TestReconnector_SucceedsAfterFailures(t *testing.T) {
	t.Parallel()
	r, waits := instantReconnector(config.ReconnectConfig{
		MaxRetries:     5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     300 * time.Millisecond,
	})

	calls := 0
	err := r.Run(context.Background(), func(context.Context) error {
		calls++
		if calls < 4 {
			return errors.New("dial refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	if len(*waits) != len(want) {
		t.Fatalf("waits = %v, want %v", *waits, want)
	}
	for i := range want {
		if (*waits)[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, (*waits)[i], want[i])
		}
	}
}

func TestReconnector_GivesUp(t *testing.T) {
	t.Parallel()
	r, _ := instantReconnector(config.ReconnectConfig{MaxRetries: 3})
	dialErr := errors.New("dial refused")

	calls := 0
	err := r.Run(context.Background(), func(context.Context) error {
		calls++
		return dialErr
	})
	if !errors.Is(err, ErrReconnectExhausted) || !errors.Is(err, dialErr) {
		t.Errorf("err = %v, want ErrReconnectExhausted wrapping the last error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestReconnector_ContextCancelled(t *testing.T) {
	t.Parallel()
	r := NewReconnector(config.ReconnectConfig{InitialBackoff: time.Hour, MaxBackoff: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx, func(context.Context) error {
		t.Error("connect called after cancel")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
