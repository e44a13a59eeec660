package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// mockSweeper implements Sweeper for testing
type mockSweeper struct {
	calls   atomic.Int64
	deleted int64
	err     error
}

func (m *mockSweeper) SweepExpired(ctx context.Context) (int64, error) {
	m.calls.Add(1)
	return m.deleted, m.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReaper_SweepsImmediatelyOnStart(t *testing.T) {
	sweeper := &mockSweeper{deleted: 2}
	reaper := NewReaper(map[string]Sweeper{"sessions": sweeper}, testLogger(), time.Hour)

	done := make(chan struct{})
	go func() {
		reaper.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return sweeper.calls.Load() == 1
	}, time.Second, 10*time.Millisecond, "first sweep should not wait for the ticker")

	reaper.Stop()
	<-done
}

func TestReaper_SweepsAllTargetsDespiteErrors(t *testing.T) {
	failing := &mockSweeper{err: errors.New("connection lost")}
	healthy := &mockSweeper{deleted: 1}
	reaper := NewReaper(map[string]Sweeper{
		"sessions":     failing,
		"reset_tokens": healthy,
	}, testLogger(), time.Hour)

	done := make(chan struct{})
	go func() {
		reaper.Start(context.Background())
		close(done)
	}()

	// One failing target never blocks the others.
	assert.Eventually(t, func() bool {
		return failing.calls.Load() == 1 && healthy.calls.Load() == 1
	}, time.Second, 10*time.Millisecond)

	reaper.Stop()
	<-done
}

func TestReaper_SweepsOnTicker(t *testing.T) {
	sweeper := &mockSweeper{}
	reaper := NewReaper(map[string]Sweeper{"sessions": sweeper}, testLogger(), 20*time.Millisecond)

	done := make(chan struct{})
	go func() {
		reaper.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return sweeper.calls.Load() >= 3
	}, time.Second, 10*time.Millisecond)

	reaper.Stop()
	<-done
}

func TestReaper_ContextCancelStops(t *testing.T) {
	sweeper := &mockSweeper{}
	reaper := NewReaper(map[string]Sweeper{"sessions": sweeper}, testLogger(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reaper.Start(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop on context cancellation")
	}
}
