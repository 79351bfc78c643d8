package turn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rokas2025/playvoice/internal/config"
	"github.com/rokas2025/playvoice/internal/metrics"
)

// ErrTooManySessions is returned when the session limit is reached
var ErrTooManySessions = errors.New("session limit reached")

// DependencyFactory builds the collaborators for a new session
type DependencyFactory func() (Dependencies, error)

// Manager manages all active conversation sessions
type Manager struct {
	sessions     map[string]*Session
	mu           sync.RWMutex
	cfg          config.SessionConfig
	historyLimit int
	newDeps      DependencyFactory
	logger       *zap.Logger
	metrics      *metrics.Metrics

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager and starts its idle reaper
func NewManager(cfg config.SessionConfig, historyLimit int, newDeps DependencyFactory, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions:     make(map[string]*Session),
		cfg:          cfg,
		historyLimit: historyLimit,
		newDeps:      newDeps,
		logger:       logger.With(zap.String("component", "session_manager")),
		metrics:      m,
		ctx:          ctx,
		cancel:       cancel,
		cleanup:      make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr
}

// Create starts a new session and registers it
func (m *Manager) Create() (*Session, error) {
	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("session manager stopped")
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrTooManySessions, m.cfg.MaxSessions)
	}

	deps, err := m.newDeps()
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to build session dependencies: %w", err)
	}

	session := NewSession(uuid.NewString(), deps, Options{
		HistoryLimit: m.historyLimit,
		Logger:       m.logger,
		Metrics:      m.metrics,
		OnClose:      m.forget,
	})
	// Registered before Start so the slot is held while capture opens
	m.sessions[session.ID()] = session
	m.metrics.RecordSessionCreated()
	m.metrics.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	if err := session.Start(); err != nil {
		return nil, err
	}

	m.logger.Info("Created new conversation session", zap.String("session_id", session.ID()))
	return session, nil
}

// Get retrieves a session by ID
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// List returns a snapshot of all sessions ordered by creation time
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Count returns the number of registered sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Remove stops a session and unregisters it
func (m *Manager) Remove(id string) bool {
	session, exists := m.Get(id)
	if !exists {
		return false
	}

	// Stop runs OnClose, which unregisters the session
	session.Stop()
	return true
}

// Stop stops every session and the idle reaper
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.mu.Lock()
	m.cancel()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Stop()
		}(session)
	}
	wg.Wait()

	<-m.cleanup

	m.logger.Info("Session manager stopped", zap.Int("stopped_sessions", len(sessions)))
}

// forget unregisters a session once it has terminated
func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	if m.sessions[s.ID()] != s {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, s.ID())
	active := len(m.sessions)
	m.mu.Unlock()

	m.metrics.RecordSessionDestroyed()
	m.metrics.SetActiveSessions(active)

	fields := []zap.Field{
		zap.String("session_id", s.ID()),
		zap.Duration("duration", time.Since(s.Info().CreatedAt)),
	}
	if err := s.Err(); err != nil {
		fields = append(fields, zap.Error(err))
	}
	m.logger.Info("Session removed", fields...)
}

// startCleanupRoutine stops sessions idle for longer than the idle timeout
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Session cleanup routine started",
		zap.Duration("idle_timeout", m.cfg.IdleTimeout),
		zap.Duration("check_interval", m.cfg.CleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupIdleSessions()
		}
	}
}

// cleanupIdleSessions removes sessions that have been inactive for too long
func (m *Manager) cleanupIdleSessions() {
	if m.cfg.IdleTimeout <= 0 {
		return
	}
	now := time.Now()
	var idle []string

	m.mu.RLock()
	for id, session := range m.sessions {
		if now.Sub(session.LastActivity()) > m.cfg.IdleTimeout {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	if len(idle) > 0 {
		m.logger.Info("Cleaning up idle sessions", zap.Int("idle_count", len(idle)))
		for _, id := range idle {
			m.Remove(id)
		}
	}
}
