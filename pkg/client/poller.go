package client

import (
	"context"
	"sync"
	"time"

	"github.com/finkargo/tip-analytics/internal/core"
)

const DefaultPollInterval = 30 * time.Second

// HealthPoller polls the health endpoint on an interval.
type HealthPoller struct {
	client   *Client
	interval time.Duration
	onUpdate func(core.HealthStatus, error)

	mu      sync.RWMutex
	last    core.HealthStatus
	lastErr error
}

// NewHealthPoller polls every interval; onUpdate, if set, runs after each poll.
func (c *Client) NewHealthPoller(interval time.Duration, onUpdate func(core.HealthStatus, error)) *HealthPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &HealthPoller{client: c, interval: interval, onUpdate: onUpdate}
}

// Run polls immediately and then on every tick until ctx is done.
func (p *HealthPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *HealthPoller) poll(ctx context.Context) {
	status, err := p.client.Health(ctx)
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	if err == nil {
		p.last = status
	}
	p.lastErr = err
	p.mu.Unlock()

	if p.onUpdate != nil {
		p.onUpdate(status, err)
	}
}

// Last returns the most recent successful status and the latest poll error.
func (p *HealthPoller) Last() (core.HealthStatus, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.lastErr
}
