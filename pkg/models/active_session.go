package models

import (
	"context"
	"sync"
	"time"
)

// ConversationRole is the speaker of one turn in an ActiveSession's history.
type ConversationRole string

const (
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
)

// ConversationTurn is one entry of an ActiveSession's ordered history.
type ConversationTurn struct {
	Role    ConversationRole
	Content string
}

// ActiveSession holds in-memory state for a session currently being
// serviced by an agent runner. It is never persisted; on restart, recovery
// happens through the durable queue and Store rows alone.
type ActiveSession struct {
	mu sync.Mutex

	SessionID               int64
	ContentSessionID        string
	Project                 string
	InFlightMessageIDs      []int64
	EarliestPendingTS       *time.Time
	CumulativeInputTokens   int
	CumulativeOutputTokens  int
	History                 []ConversationTurn
	CurrentProvider         string
	LastActivity            time.Time

	cancel context.CancelFunc
	done   chan struct{} // closed when the generator goroutine exits
}

// NewActiveSession constructs a runtime session record bound to ctx; the
// returned CancelFunc triggers cooperative abort of the generator.
func NewActiveSession(sessionID int64, contentID, project string, parent context.Context) (*ActiveSession, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &ActiveSession{
		SessionID:        sessionID,
		ContentSessionID: contentID,
		Project:          project,
		cancel:           cancel,
		done:             make(chan struct{}),
		LastActivity:     time.Now(),
	}, ctx
}

// TrackInFlight records a claimed message id pending confirmation, and
// captures the earliest pending timestamp seen so far for the batch.
func (a *ActiveSession) TrackInFlight(messageID int64, enqueuedAt time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.InFlightMessageIDs = append(a.InFlightMessageIDs, messageID)
	if a.EarliestPendingTS == nil || enqueuedAt.Before(*a.EarliestPendingTS) {
		ts := enqueuedAt
		a.EarliestPendingTS = &ts
	}
}

// DrainInFlight returns and clears the in-flight id list and earliest
// timestamp, for use after ResponseProcessor confirms the whole batch.
func (a *ActiveSession) DrainInFlight() ([]int64, *time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := a.InFlightMessageIDs
	ts := a.EarliestPendingTS
	a.InFlightMessageIDs = nil
	a.EarliestPendingTS = nil
	return ids, ts
}

// AppendHistory adds one conversation turn.
func (a *ActiveSession) AppendHistory(role ConversationRole, content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.History = append(a.History, ConversationTurn{Role: role, Content: content})
	a.LastActivity = time.Now()
}

// Snapshot returns a copy of the current history, safe to range over
// without holding the session lock.
func (a *ActiveSession) Snapshot() []ConversationTurn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ConversationTurn, len(a.History))
	copy(out, a.History)
	return out
}

// Abort cancels the generator's context; it does not block for exit.
func (a *ActiveSession) Abort() {
	if a.cancel != nil {
		a.cancel()
	}
}

// MarkDone closes the done channel, signalling the generator has exited.
// Safe to call at most once.
func (a *ActiveSession) MarkDone() {
	close(a.done)
}

// Done returns a channel closed when the generator goroutine has exited.
func (a *ActiveSession) Done() <-chan struct{} {
	return a.done
}

// Alive reports whether the generator appears to still be running.
func (a *ActiveSession) Alive() bool {
	select {
	case <-a.done:
		return false
	default:
		return true
	}
}
