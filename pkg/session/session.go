// Package session maps client-chosen session IDs to live sandboxes.
//
// A Manager owns the session map exclusively. Unknown IDs create a sandbox
// on first use; reuse refreshes the idle clock; a cron-scheduled sweep
// evicts sessions idle longer than the configured timeout.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/rhuss/sandbox-mcp/pkg/debug"
	"github.com/rhuss/sandbox-mcp/pkg/observability"
	"github.com/rhuss/sandbox-mcp/pkg/sandbox"
)

const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// Session is one live sandbox bound to an ID.
type Session struct {
	ID           string
	Sandbox      sandbox.Sandbox
	CreatedAt    time.Time
	LastAccessed time.Time
}

// Options configures a Manager.
type Options struct {
	// IdleTimeout is how long a session may go untouched before the sweep
	// evicts it (default: 30m).
	IdleTimeout time.Duration

	// SweepInterval is how often the sweep runs after Start (default: 5m).
	SweepInterval time.Duration

	// KillOnEvict kills the remote sandbox when a session is evicted or
	// cleared on shutdown. Off by default: eviction is local bookkeeping.
	KillOnEvict bool
}

// Manager owns the session map.
type Manager struct {
	service sandbox.Service
	opts    Options

	mu       sync.Mutex
	sessions map[string]*Session
	group    singleflight.Group

	cron *cron.Cron

	// Replaceable in tests.
	now   func() time.Time
	newID func() string
}

// NewManager creates a Manager that provisions sandboxes from service.
func NewManager(service sandbox.Service, opts Options) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	return &Manager{
		service:  service,
		opts:     opts,
		sessions: make(map[string]*Session),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Resolve returns the sandbox for sessionID, creating one when the ID is
// empty or unknown. The returned ID is sessionID, or a generated one when
// sessionID was empty. Creation errors are returned unchanged.
func (m *Manager) Resolve(ctx context.Context, sessionID string) (sandbox.Sandbox, string, error) {
	if sessionID == "" {
		sessionID = m.newID()
	}

	if sbx, ok := m.touch(sessionID); ok {
		debug.Log("session", "session reused", "session_id", sessionID)
		return sbx, sessionID, nil
	}

	// Concurrent resolutions of the same unknown ID share one creation.
	v, err, _ := m.group.Do(sessionID, func() (any, error) {
		if sbx, ok := m.touch(sessionID); ok {
			return sbx, nil
		}
		return m.create(ctx, sessionID)
	})
	if err != nil {
		return nil, sessionID, err
	}
	return v.(sandbox.Sandbox), sessionID, nil
}

// touch refreshes LastAccessed for a live session.
func (m *Manager) touch(id string) (sandbox.Sandbox, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	if now := m.now(); now.After(s.LastAccessed) {
		s.LastAccessed = now
	}
	return s.Sandbox, true
}

func (m *Manager) create(ctx context.Context, id string) (sandbox.Sandbox, error) {
	start := time.Now()
	sbx, err := m.service.Create(ctx)
	if err != nil {
		observability.SandboxCreateDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, err
	}
	observability.SandboxCreateDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())

	now := m.now()
	m.mu.Lock()
	m.sessions[id] = &Session{ID: id, Sandbox: sbx, CreatedAt: now, LastAccessed: now}
	n := len(m.sessions)
	m.mu.Unlock()

	observability.SessionsCreatedTotal.Inc()
	observability.SessionsActive.Set(float64(n))
	slog.Info("session created", "session_id", id, "sandbox_id", sbx.ID())
	return sbx, nil
}

// Get returns a copy of the session for id.
func (m *Manager) Get(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep evicts every session idle longer than IdleTimeout. A failure while
// evicting one session is logged and does not stop the others.
func (m *Manager) Sweep() {
	now := m.now()

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if now.Sub(s.LastAccessed) > m.opts.IdleTimeout {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	observability.SessionsActive.Set(float64(n))
	for _, s := range expired {
		m.evict(s, now)
	}
	if len(expired) > 0 {
		debug.Log("session", "sweep finished", "evicted", len(expired), "remaining", n)
	}
}

func (m *Manager) evict(s *Session, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("session eviction panicked", "session_id", s.ID, "panic", fmt.Sprint(r))
		}
	}()

	observability.SessionEvictionsTotal.Inc()
	slog.Info("session evicted", "session_id", s.ID, "idle", now.Sub(s.LastAccessed).Round(time.Second))
	if m.opts.KillOnEvict {
		m.kill(s)
	}
}

func (m *Manager) kill(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Sandbox.Kill(ctx); err != nil {
		slog.Warn("failed to kill sandbox", "session_id", s.ID, "sandbox_id", s.Sandbox.ID(), "error", err)
	}
}

// Start schedules Sweep every SweepInterval.
func (m *Manager) Start() error {
	c := cron.New()
	spec := "@every " + m.opts.SweepInterval.String()
	if _, err := c.AddFunc(spec, m.Sweep); err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	c.Start()

	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()

	slog.Info("session sweep scheduled",
		"interval", m.opts.SweepInterval,
		"idle_timeout", m.opts.IdleTimeout,
	)
	return nil
}

// Shutdown stops the sweep schedule and clears every session. Sandboxes
// are killed only when KillOnEvict is set.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	observability.SessionsActive.Set(0)
	if m.opts.KillOnEvict {
		var wg sync.WaitGroup
		for _, s := range sessions {
			wg.Add(1)
			go func(s *Session) {
				defer wg.Done()
				m.kill(s)
			}(s)
		}
		wg.Wait()
	}
	slog.Info("sessions cleared", "count", len(sessions))
}
