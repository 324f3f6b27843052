// Package memory contains an in-memory completion notifier for tests.
package memory

import (
	"context"
	"sync"
)

// Notification captures one completion announcement.
type Notification struct {
	JobID   string
	Summary any
}

// Publisher stores completion notifications for inspection.
type Publisher struct {
	mu            sync.RWMutex
	notifications []Notification
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// JobCompleted records the notification.
func (p *Publisher) JobCompleted(_ context.Context, jobID string, summary any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, Notification{JobID: jobID, Summary: summary})
	return nil
}

// Notifications returns the recorded completions.
func (p *Publisher) Notifications() []Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Notification, len(p.notifications))
	copy(out, p.notifications)
	return out
}
