// Package connectivity tracks whether the remote store is reachable and
// tells interested components when the device comes back online.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Monitor is a two-state machine, Online ⇄ Offline. Listeners registered
// with OnOnline run on every Offline → Online transition.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	listeners []func()
	changed   []func(online bool)
	logger    *slog.Logger
}

func NewMonitor(logger *slog.Logger, online bool) *Monitor {
	return &Monitor{online: online, logger: logger}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnOnline registers fn to be called after each Offline → Online
// transition. fn runs on the goroutine that reported the transition.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// OnChange registers fn to be called after every transition.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	m.changed = append(m.changed, fn)
	m.mu.Unlock()
}

// Set records the current network state and fires listeners on a
// transition. Repeating the current state is a no-op.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := append([]func(){}, m.listeners...)
	changed := append([]func(bool){}, m.changed...)
	m.mu.Unlock()

	if online {
		m.logger.Info("connectivity restored")
	} else {
		m.logger.Warn("connectivity lost")
	}
	for _, fn := range changed {
		fn(online)
	}
	if online {
		for _, fn := range listeners {
			fn()
		}
	}
}

// Pinger is anything that can tell whether the remote side answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober feeds a Monitor from periodic pings.
type Prober struct {
	monitor  *Monitor
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func NewProber(logger *slog.Logger, m *Monitor, p Pinger, interval time.Duration) *Prober {
	timeout := interval / 2
	if timeout <= 0 || timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &Prober{monitor: m, pinger: p, interval: interval, timeout: timeout, logger: logger}
}

// Probe pings once and updates the monitor.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(ctx)
	if err != nil {
		p.logger.Debug("remote probe failed", "error", err)
	}
	p.monitor.Set(err == nil)
	return err == nil
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
