// Package response implements the ResponseProcessor: parses an LLM reply
// into observations/summaries, stores them atomically with queue
// confirmation, and fans out to VectorSync and the SSE broadcaster.
package response

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clmem/memoryd/internal/queue"
	"github.com/clmem/memoryd/internal/txn"
	"github.com/clmem/memoryd/pkg/models"
)

// SessionStore is the subset of internal/store.Store the processor needs
// to verify a session's memory id before committing.
type SessionStore interface {
	GetSession(sessionDBID int64) (*models.Session, error)
}

// Broadcaster publishes an SSE event to subscribed hook/UI clients.
type Broadcaster interface {
	Publish(event string, sessionDBID int64, payload any)
}

// VectorIndexer is the subset of vectorsync.Sync the processor fans out to.
type VectorIndexer interface {
	SyncObservation(ctx context.Context, obs *models.Observation)
	SyncSummary(ctx context.Context, sum *models.SessionSummary)
}

// FolderIndexer enqueues the external CLAUDE.md folder-index update; its
// implementation lives outside this module's scope (see Non-goals) — here
// it is only ever called, never defined beyond this interface.
type FolderIndexer interface {
	EnqueueFolderUpdate(project string, files []string)
}

// Processor implements the seven-step pipeline of the spec's
// ResponseProcessor.
type Processor struct {
	store    SessionStore
	queue    *queue.Queue
	txns     *txn.Transactions
	vector   VectorIndexer
	broadcast Broadcaster
	folders  FolderIndexer
	logger   *slog.Logger
}

// New constructs a Processor. vector, broadcast, and folders may be nil, in
// which case their steps are skipped (useful for tests focused on the
// storage/confirm path).
func New(store SessionStore, q *queue.Queue, txns *txn.Transactions, vector VectorIndexer, broadcast Broadcaster, folders FolderIndexer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: store, queue: q, txns: txns, vector: vector, broadcast: broadcast, folders: folders, logger: logger}
}

// Process runs the seven steps against text, the raw LLM reply, for the
// given active session.
func (p *Processor) Process(ctx context.Context, sess *models.ActiveSession, text string) error {
	// 1. Append to conversation history.
	sess.AppendHistory(models.RoleAssistant, text)

	// 2. Parse observation/summary blocks.
	blocks := Parse(text)
	if len(blocks.Observations) == 0 && blocks.Summary == nil {
		return nil
	}

	// 3. Verify memory_session_id is set.
	row, err := p.store.GetSession(sess.SessionID)
	if err != nil {
		return fmt.Errorf("response: load session %d: %w", sess.SessionID, err)
	}
	if row.MemorySessionID == nil {
		return fmt.Errorf("response: memory_session_id not set for session %d, cannot store batch", sess.SessionID)
	}

	// 4. Store via Transactions, using the earliest-pending timestamp so
	// stored rows reflect when the event was captured, not when the LLM
	// finished.
	inFlight, earliest := sess.DrainInFlight()

	result, err := p.txns.StoreObservations(sess.SessionID, row.Project, blocks.Observations, blocks.Summary, earliest)
	if err != nil {
		// Re-track the batch so a later retry still confirms it once
		// storage eventually succeeds; the queue rows themselves are left
		// untouched in processing and recovered by self-heal.
		fallback := time.Now()
		if earliest != nil {
			fallback = *earliest
		}
		for _, id := range inFlight {
			sess.TrackInFlight(id, fallback)
		}
		return fmt.Errorf("response: store observations: %w", err)
	}

	// 5. Confirm every in-flight message id.
	for _, id := range inFlight {
		if err := p.queue.Confirm(id); err != nil {
			p.logger.Error("response: confirm failed", "message_id", id, "error", err)
		}
	}

	// 6. Fan out to VectorSync and SSE. Best-effort; never fails the batch.
	p.fanOut(ctx, row.Project, result, blocks)

	// 7. Folder-index update for files touched, if enabled.
	if p.folders != nil {
		files := unionFiles(blocks.Observations)
		if len(files) > 0 {
			p.folders.EnqueueFolderUpdate(row.Project, files)
		}
	}

	return nil
}

func (p *Processor) fanOut(ctx context.Context, project string, result *txn.Result, blocks *ParsedBlocks) {
	for i, id := range result.ObservationIDs {
		obs := blocks.Observations[i]
		obs.ID = id
		obs.Project = project
		obs.CreatedAt = result.CreatedAt
		if p.vector != nil {
			p.vector.SyncObservation(ctx, obs)
		}
		if p.broadcast != nil {
			p.broadcast.Publish("observation", obs.SessionID, obs)
		}
	}
	if result.SummaryID != nil && blocks.Summary != nil {
		blocks.Summary.ID = *result.SummaryID
		blocks.Summary.Project = project
		blocks.Summary.CreatedAt = result.CreatedAt
		if p.vector != nil {
			p.vector.SyncSummary(ctx, blocks.Summary)
		}
		if p.broadcast != nil {
			p.broadcast.Publish("summary", blocks.Summary.SessionID, blocks.Summary)
		}
	}
}

func unionFiles(obs []*models.Observation) []string {
	seen := map[string]bool{}
	var out []string
	for _, o := range obs {
		for _, f := range append(append([]string{}, o.FilesRead...), o.FilesModified...) {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}
