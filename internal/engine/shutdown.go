package engine

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Coordinator serializes the shutdown path. RequestShutdown only raises a
// flag; the active orchestrator polls it between dispatches, lets in-flight
// work finish, and then performs the final checkpoint save through SaveOnce.
// The save runs at most once no matter how many triggers fire. OS signal
// handling lives entirely in the command layer, which calls RequestShutdown
// and waits for the job to drain — the orchestrators never touch signals
// themselves.
type Coordinator struct {
	mu        sync.Mutex
	once      sync.Once
	requested atomic.Bool
	saver     func() error
	logger    *zap.Logger
}

// NewCoordinator returns an idle coordinator.
func NewCoordinator(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{logger: logger}
}

// SetSaver registers the active job's checkpoint save. The previous saver,
// if any, is replaced.
func (c *Coordinator) SetSaver(save func() error) {
	c.mu.Lock()
	c.saver = save
	c.mu.Unlock()
}

// ClearSaver deregisters the active job's saver, typically when the job
// finishes normally.
func (c *Coordinator) ClearSaver() {
	c.SetSaver(nil)
}

// Requested reports whether shutdown has been triggered.
func (c *Coordinator) Requested() bool {
	return c.requested.Load()
}

// RequestShutdown flags shutdown. Idempotent; callers then wait for the
// running job to return.
func (c *Coordinator) RequestShutdown() {
	c.requested.Store(true)
}

// SaveOnce runs the registered saver exactly once across all callers. The
// first caller gets the save error; later calls return nil immediately.
func (c *Coordinator) SaveOnce() error {
	var saveErr error
	c.once.Do(func() {
		c.mu.Lock()
		save := c.saver
		c.mu.Unlock()
		if save == nil {
			return
		}
		c.logger.Info("saving shutdown checkpoint")
		if err := save(); err != nil {
			c.logger.Error("shutdown checkpoint save failed", zap.Error(err))
			saveErr = err
			return
		}
		c.logger.Info("shutdown checkpoint saved")
	})
	return saveErr
}
