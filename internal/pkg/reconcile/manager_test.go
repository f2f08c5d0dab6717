package reconcile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingReconciler struct {
	name   string
	cycles atomic.Int64
}

func (c *countingReconciler) Name() string            { return c.name }
func (c *countingReconciler) Interval() time.Duration { return 10 * time.Millisecond }

func (c *countingReconciler) RunCycle(ctx context.Context) error {
	c.cycles.Add(1)
	return nil
}

func TestManagerRunsAllLoops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmupDelay = 0

	a := &countingReconciler{name: "a"}
	b := &countingReconciler{name: "b"}
	m := NewManager(cfg, a, b)

	m.Start()
	assert.True(t, m.IsRunning())

	time.Sleep(100 * time.Millisecond)
	m.Stop()
	assert.False(t, m.IsRunning())

	assert.Greater(t, a.cycles.Load(), int64(0))
	assert.Greater(t, b.cycles.Load(), int64(0))

	// no cycles run after Stop returns
	after := a.cycles.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, a.cycles.Load())
}

func TestManagerStartAndStopAreIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmupDelay = 0

	m := NewManager(cfg, &countingReconciler{name: "a"})

	m.Start()
	m.Start()
	m.Stop()
	m.Stop()
	assert.False(t, m.IsRunning())
}

func TestManagerStopDuringWarmup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmupDelay = time.Minute

	r := &countingReconciler{name: "a"}
	m := NewManager(cfg, r)

	m.Start()
	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return while loop was warming up")
	}
	assert.Zero(t, r.cycles.Load())
}
