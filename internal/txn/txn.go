// Package txn implements the atomic composite store operation: N
// observations plus an optional summary (plus, for the legacy path, a
// pending-message completion marker) committed in a single transaction.
package txn

import (
	"database/sql"
	"time"

	"github.com/clmem/memoryd/internal/store"
	"github.com/clmem/memoryd/pkg/models"
)

// DefaultDedupWindow is the sliding window within which two observations
// with identical content hash collapse to the first.
const DefaultDedupWindow = 30 * time.Second

// Transactions composes atomic multi-row commits on top of a raw *sql.DB.
type Transactions struct {
	db          *sql.DB
	dedupWindow time.Duration
}

// New constructs a Transactions helper over db.
func New(db *sql.DB) *Transactions {
	return &Transactions{db: db, dedupWindow: DefaultDedupWindow}
}

// Result is the outcome of StoreObservations: ids are stable and
// index-aligned with the input observation slice.
type Result struct {
	ObservationIDs []int64
	SummaryID      *int64
	CreatedAt      time.Time
}

// StoreObservations runs one DB transaction: for each observation, probe
// for a dedup match and reuse its id or insert fresh; optionally insert a
// summary; return the aligned id list. overrideTS, if non-nil, is used as
// the stored timestamp instead of now (so rows reflect when the event was
// captured rather than when the LLM finished).
func (t *Transactions) StoreObservations(
	sessionID int64,
	project string,
	observations []*models.Observation,
	summary *models.SessionSummary,
	overrideTS *time.Time,
) (*Result, error) {
	at := time.Now()
	if overrideTS != nil {
		at = *overrideTS
	}

	tx, err := t.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]int64, len(observations))
	for i, obs := range observations {
		obs.SessionID = sessionID
		if obs.Project == "" {
			obs.Project = project
		}
		id, _, err := store.InsertObservationTx(tx, obs, t.dedupWindow, at)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	var summaryID *int64
	if summary != nil {
		summary.SessionID = sessionID
		if summary.Project == "" {
			summary.Project = project
		}
		id, err := store.InsertSummaryTx(tx, summary, at)
		if err != nil {
			return nil, err
		}
		summaryID = &id
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Result{ObservationIDs: ids, SummaryID: summaryID, CreatedAt: at}, nil
}

// StoreObservationsLegacy additionally marks a pending-message row processed
// inside the same transaction. Retained only for compatibility with the old
// mark-processed lifecycle; the claim-confirm path (internal/queue.Confirm)
// does not use it.
func (t *Transactions) StoreObservationsLegacy(
	sessionID int64,
	project string,
	observations []*models.Observation,
	summary *models.SessionSummary,
	legacyMessageID int64,
	overrideTS *time.Time,
) (*Result, error) {
	at := time.Now()
	if overrideTS != nil {
		at = *overrideTS
	}

	tx, err := t.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]int64, len(observations))
	for i, obs := range observations {
		obs.SessionID = sessionID
		if obs.Project == "" {
			obs.Project = project
		}
		id, _, err := store.InsertObservationTx(tx, obs, t.dedupWindow, at)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	var summaryID *int64
	if summary != nil {
		summary.SessionID = sessionID
		id, err := store.InsertSummaryTx(tx, summary, at)
		if err != nil {
			return nil, err
		}
		summaryID = &id
	}

	if _, err := tx.Exec(
		`UPDATE pending_messages SET status = 'processed', completed_at = ? WHERE id = ?`,
		at.Unix(), legacyMessageID,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Result{ObservationIDs: ids, SummaryID: summaryID, CreatedAt: at}, nil
}
