// Package sessionmgr owns the session_db_id -> ActiveSession map and the
// per-session generator goroutine (an internal/agent.Runner) that services
// it.
package sessionmgr

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clmem/memoryd/internal/queue"
	"github.com/clmem/memoryd/pkg/models"
)

// SessionStore is the subset of internal/store.Store the manager needs.
type SessionStore interface {
	CreateOrGetSession(contentID, project, firstUserPrompt string) (int64, bool, error)
	SetMemorySessionID(sessionDBID int64, memorySessionID *string) error
	NextPromptNumber(sessionDBID int64) (int, error)
	EndSession(sessionDBID int64) error
	GetSession(sessionDBID int64) (*models.Session, error)
}

// RunnerFactory builds and returns an already-started generator for sess;
// the manager never starts a goroutine itself, because every provider
// wiring decision (which model, which failover chain) belongs to the
// caller that knows the active configuration.
type RunnerFactory func(sess *models.ActiveSession, ctx context.Context)

// Manager implements SessionManager: idempotent session start, routing new
// queue entries to the right ActiveSession, and graceful teardown.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*models.ActiveSession

	store  SessionStore
	queue  *queue.Queue
	spawn  RunnerFactory
	logger *slog.Logger
}

// New constructs a Manager. spawn is called (in a new goroutine, by the
// caller's own Run loop) every time EnsureStarted decides a fresh generator
// is needed.
func New(store SessionStore, q *queue.Queue, spawn RunnerFactory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[int64]*models.ActiveSession),
		store:    store,
		queue:    q,
		spawn:    spawn,
		logger:   logger,
	}
}

// EnsureStarted gets-or-creates the Session row, increments the prompt
// counter, and ensures a live generator is running for it. contextInjected
// tells the hook caller whether to re-inject formatted context: false means
// a fresh generator was just spawned (first turn of a thread it doesn't yet
// know), true means an existing generator is already servicing this
// session's conversation.
func (m *Manager) EnsureStarted(contentID, project, userPrompt string) (sessionDBID int64, promptNumber int, contextInjected bool, err error) {
	sessionDBID, created, err := m.store.CreateOrGetSession(contentID, project, userPrompt)
	if err != nil {
		return 0, 0, false, err
	}

	if !created {
		// Multi-terminal isolation: if this content id is re-entered while
		// no live generator exists for it, the previous memory thread (if
		// any) is abandoned rather than silently continued from another
		// terminal's context.
		m.mu.Lock()
		_, live := m.sessions[sessionDBID]
		m.mu.Unlock()
		if !live {
			if err := m.store.SetMemorySessionID(sessionDBID, nil); err != nil {
				return 0, 0, false, err
			}
		}
	}

	promptNumber, err = m.store.NextPromptNumber(sessionDBID)
	if err != nil {
		return 0, 0, false, err
	}

	m.mu.Lock()
	sess, exists := m.sessions[sessionDBID]
	needsSpawn := !exists || !sess.Alive()
	if needsSpawn {
		newSess, ctx := models.NewActiveSession(sessionDBID, contentID, project, context.Background())
		m.sessions[sessionDBID] = newSess
		sess = newSess
		m.mu.Unlock()
		m.logger.Info("sessionmgr: spawning generator", "session_db_id", sessionDBID, "content_session_id", contentID)
		m.spawn(sess, ctx)
	} else {
		m.mu.Unlock()
	}

	return sessionDBID, promptNumber, !needsSpawn, nil
}

// EnsureStartedByID spawns a generator for an already-known session row,
// without touching memory_session_id or the prompt counter: used by
// `POST /api/sessions/:id/init` and by the pending-queue "kick the
// scheduler" endpoint to resume sessions that still have queued work after
// a restart. contextInjected is true iff a generator was already live.
func (m *Manager) EnsureStartedByID(sessionDBID int64) (contextInjected bool, err error) {
	m.mu.Lock()
	sess, exists := m.sessions[sessionDBID]
	needsSpawn := !exists || !sess.Alive()
	m.mu.Unlock()

	if !needsSpawn {
		return true, nil
	}

	row, err := m.store.GetSession(sessionDBID)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	sess, exists = m.sessions[sessionDBID]
	needsSpawn = !exists || !sess.Alive()
	if needsSpawn {
		newSess, ctx := models.NewActiveSession(sessionDBID, row.ContentSessionID, row.Project, context.Background())
		m.sessions[sessionDBID] = newSess
		sess = newSess
		m.mu.Unlock()
		m.logger.Info("sessionmgr: spawning generator", "session_db_id", sessionDBID, "content_session_id", row.ContentSessionID)
		m.spawn(sess, ctx)
	} else {
		m.mu.Unlock()
	}

	return !needsSpawn, nil
}

// Enqueue forwards msg to the durable queue for sessionDBID. It does not by
// itself wake a generator; callers observe needsSpawn from EnsureStarted for
// that decision, since the two calls happen on the same event.
func (m *Manager) Enqueue(sessionDBID int64, contentID string, msg *models.PendingMessage) (int64, error) {
	return m.queue.Enqueue(sessionDBID, contentID, msg)
}

// DeleteSession aborts the generator, waits up to deadline for it to exit,
// then removes the ActiveSession regardless of whether it exited in time.
func (m *Manager) DeleteSession(sessionDBID int64, deadline time.Duration) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionDBID]
	delete(m.sessions, sessionDBID)
	m.mu.Unlock()

	if ok {
		sess.Abort()
		select {
		case <-sess.Done():
		case <-time.After(deadline):
			m.logger.Warn("sessionmgr: generator did not exit before deadline", "session_db_id", sessionDBID)
		}
	}

	return m.store.EndSession(sessionDBID)
}

// GetTotalActiveWork returns the aggregate queue depth across every
// session, used for the HTTP processing_status broadcast.
func (m *Manager) GetTotalActiveWork() (int, error) {
	return m.queue.PendingCount()
}

// ActiveSessionIDs returns the session_db_ids with a live ActiveSession, for
// ProcessRegistry's orphan sweep and graceful-shutdown abort loop.
func (m *Manager) ActiveSessionIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, 0, len(m.sessions))
	for id, sess := range m.sessions {
		if sess.Alive() {
			out = append(out, id)
		}
	}
	return out
}

// AbortAll aborts every live generator, used during shutdown.
func (m *Manager) AbortAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.sessions {
		sess.Abort()
	}
}
