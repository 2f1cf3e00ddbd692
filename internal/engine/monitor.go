package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default connectivity monitor intervals.
const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 10 * time.Second
)

// ProbeFunc checks server reachability. A nil return means online.
// Satisfied by (*api.Client).Health.
type ProbeFunc func(ctx context.Context) error

// Monitor tracks the engine's current belief about network reachability.
// It probes the server health endpoint on an interval, accepts explicit
// transitions (e.g. from a platform network event), and notifies
// subscribers on transitions only. All methods are safe for concurrent use.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	online    bool
	listeners map[int]func(online bool)
	nextID    int

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewMonitor creates a Monitor that starts out offline; the first probe
// establishes the real state. interval of zero uses the 30s default.
func NewMonitor(probe ProbeFunc, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = defaultProbeInterval
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		probe:     probe,
		interval:  interval,
		timeout:   defaultProbeTimeout,
		logger:    logger,
		listeners: make(map[int]func(bool)),
		done:      make(chan struct{}),
	}
}

// Online returns the current connectivity belief.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.online
}

// SetOnline applies an explicit connectivity transition, firing listeners
// if the state actually changed. Used for platform network events and to
// mark the link down after a transport failure without waiting for the
// next probe.
func (m *Monitor) SetOnline(online bool) {
	m.transition(online)
}

// Check probes the server once, synchronously, applies the resulting
// transition, and returns the new state. One-shot commands call this
// before triggering a sync so they do not depend on the background loop.
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.probe(probeCtx)
	if err != nil {
		m.logger.Debug("connectivity probe failed", slog.String("error", err.Error()))
	}

	m.transition(err == nil)

	return err == nil
}

// OnChange registers a listener fired once per connectivity transition.
// The returned function unsubscribes; after it returns the listener is
// never called again.
func (m *Monitor) OnChange(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Start launches the background probe loop. It probes immediately, then on
// every interval tick, until the context is canceled or Close is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	go m.loop(ctx)
}

// Close stops the probe loop and waits for it to exit. Safe to call when
// Start was never called, and safe to call twice.
func (m *Monitor) Close() {
	m.once.Do(func() {
		if m.cancel == nil {
			close(m.done)
			return
		}

		m.cancel()
		<-m.done
	})
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// transition updates the state and fires listeners outside the lock.
func (m *Monitor) transition(online bool) {
	m.mu.Lock()

	if m.online == online {
		m.mu.Unlock()
		return
	}

	m.online = online

	fns := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}

	m.mu.Unlock()

	m.logger.Info("connectivity changed", slog.Bool("online", online))

	for _, fn := range fns {
		fn(online)
	}
}
