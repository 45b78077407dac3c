package workspace

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"scontrino/internal/core"
	"scontrino/internal/log"
)

// Manager owns the open review sessions: it creates workspaces from scan
// results, hands them out by id and sweeps sessions idle past the TTL.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Workspace

	ttl        time.Duration
	successTTL time.Duration

	source CategorySource
	sink   ReceiptSink
	logger *log.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSessionTTL sets how long an idle session survives before the
// sweeper closes it. Default 30 minutes.
func WithSessionTTL(d time.Duration) ManagerOption {
	return func(m *Manager) { m.ttl = d }
}

// WithBannerTTL sets the success banner duration for all sessions.
func WithBannerTTL(d time.Duration) ManagerOption {
	return func(m *Manager) { m.successTTL = d }
}

// WithManagerLogger attaches a logger.
func WithManagerLogger(l *log.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager builds a session manager over the given category source and
// receipt sink.
func NewManager(source CategorySource, sink ReceiptSink, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:   make(map[string]*Workspace),
		ttl:        30 * time.Minute,
		successTTL: 3 * time.Second,
		source:     source,
		sink:       sink,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.Discard()
	}
	return m
}

// Open creates a new workspace for a completed scan and registers it.
func (m *Manager) Open(userID, imagePath string, items []core.ScannedItem) *Workspace {
	w := New(uuid.NewString(), userID, imagePath, items, m.source, m.sink,
		WithSuccessTTL(m.successTTL), WithLogger(m.logger))

	m.mu.Lock()
	m.sessions[w.ID()] = w
	m.mu.Unlock()

	m.logger.Info("workspace opened",
		log.FieldWorkspaceID, w.ID(),
		log.FieldUserID, userID,
		log.FieldItemCount, len(items))
	return w
}

// Get returns the workspace with the given id.
func (m *Manager) Get(id string) (*Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.sessions[id]
	return w, ok
}

// Close discards a session. Unknown ids are a no-op.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	w, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		w.Close()
		m.logger.Info("workspace closed", log.FieldWorkspaceID, id)
	}
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// SweepExpired closes sessions idle past the TTL and returns how many
// were dropped.
func (m *Manager) SweepExpired() int {
	cutoff := time.Now().Add(-m.ttl)

	m.mu.Lock()
	var expired []*Workspace
	for id, w := range m.sessions {
		if w.IdleSince().Before(cutoff) {
			expired = append(expired, w)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, w := range expired {
		w.Close()
		m.logger.Info("idle workspace swept", log.FieldWorkspaceID, w.ID())
	}
	return len(expired)
}

// RunSweeper sweeps expired sessions on the given interval until the
// context is canceled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.SweepExpired(); n > 0 {
				m.logger.Debug("sweep completed", "sessions_removed", n)
			}
		}
	}
}
