// Package queue implements the durable claim-confirm work queue on top of
// internal/store: enqueue, claim, confirm, retry/failure transitions, and
// self-healing of stale in-flight entries.
package queue

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/clmem/memoryd/pkg/models"
)

// InPathStaleThreshold is the claim-epoch age past which a processing row
// is presumed abandoned by claim_next itself. Authoritative for recovery
// correctness per the spec's Open Question decision (see DESIGN.md).
const InPathStaleThreshold = 60 * time.Second

// SweepStaleThreshold is the wider window used by has_any_pending_work's
// background sweep; a visibility optimization only, not relied on for
// correctness.
const SweepStaleThreshold = 5 * time.Minute

// Queue wraps the pending_messages table with claim-confirm semantics.
type Queue struct {
	db     *sql.DB
	logger *slog.Logger
}

// New constructs a Queue over db (the same handle held by internal/store).
func New(db *sql.DB, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{db: db, logger: logger}
}

// Enqueue always inserts a new row with status pending.
func (q *Queue) Enqueue(sessionDBID int64, contentID string, msg *models.PendingMessage) (int64, error) {
	res, err := q.db.Exec(
		`INSERT INTO pending_messages
		 (session_id, content_session_id, kind, tool_name, tool_input, tool_response,
		  last_assistant_message, cwd, status, retry_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0, ?)`,
		sessionDBID, contentID, msg.Kind, msg.ToolName, msg.ToolInput, msg.ToolResponse,
		msg.LastAssistantMessage, msg.Cwd, time.Now().Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ClaimNext atomically self-heals stale processing rows for sessionDBID,
// then claims and returns the oldest pending row, or nil if none.
func (q *Queue) ClaimNext(sessionDBID int64) (*models.PendingMessage, error) {
	tx, err := q.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	healed, err := selfHeal(tx, sessionDBID, InPathStaleThreshold)
	if err != nil {
		return nil, err
	}
	if healed > 0 {
		q.logger.Info("queue self-heal reset stale processing rows", "session_db_id", sessionDBID, "count", healed)
	}

	row := tx.QueryRow(
		`SELECT id, session_id, content_session_id, kind, tool_name, tool_input, tool_response,
		        last_assistant_message, cwd, status, retry_count, created_at, claimed_at, completed_at
		 FROM pending_messages WHERE session_id = ? AND status = 'pending' ORDER BY id ASC LIMIT 1`,
		sessionDBID,
	)
	msg, err := scanPendingMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	if _, err := tx.Exec(`UPDATE pending_messages SET status = 'processing', claimed_at = ? WHERE id = ?`, now, msg.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	msg.Status = models.StatusProcessing
	claimedAt := time.Unix(now, 0)
	msg.ClaimedAt = &claimedAt
	return msg, nil
}

// selfHeal resets processing rows for sessionDBID whose claim is older than
// threshold back to pending, nulling claimed_at. Returns the count reset.
func selfHeal(tx *sql.Tx, sessionDBID int64, threshold time.Duration) (int64, error) {
	cutoff := time.Now().Add(-threshold).Unix()
	res, err := tx.Exec(
		`UPDATE pending_messages SET status = 'pending', claimed_at = NULL
		 WHERE session_id = ? AND status = 'processing' AND claimed_at < ?`,
		sessionDBID, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Confirm deletes a row. Callers MUST only call this after the downstream
// commit that stored its derived data has succeeded.
func (q *Queue) Confirm(messageID int64) error {
	_, err := q.db.Exec(`DELETE FROM pending_messages WHERE id = ?`, messageID)
	return err
}

// MarkFailed returns the row to pending with retry_count+1, or to failed
// once retry_count reaches models.DefaultMaxRetries. Used only when the LLM
// rejects the input — never for transport or database errors, which leave
// the row in processing for self-heal.
func (q *Queue) MarkFailed(messageID int64) error {
	var retryCount int
	err := q.db.QueryRow(`SELECT retry_count FROM pending_messages WHERE id = ?`, messageID).Scan(&retryCount)
	if err != nil {
		return err
	}
	if retryCount+1 >= models.DefaultMaxRetries {
		_, err = q.db.Exec(`UPDATE pending_messages SET status = 'failed', retry_count = ? WHERE id = ?`, retryCount+1, messageID)
		return err
	}
	_, err = q.db.Exec(
		`UPDATE pending_messages SET status = 'pending', retry_count = ?, claimed_at = NULL WHERE id = ?`,
		retryCount+1, messageID)
	return err
}

// ResetStale resets any processing row (optionally scoped to sessionDBID)
// whose claim is older than threshold back to pending. Used at startup and
// periodically.
func (q *Queue) ResetStale(threshold time.Duration, sessionDBID *int64) (int64, error) {
	cutoff := time.Now().Add(-threshold).Unix()
	var res sql.Result
	var err error
	if sessionDBID != nil {
		res, err = q.db.Exec(
			`UPDATE pending_messages SET status = 'pending', claimed_at = NULL
			 WHERE status = 'processing' AND claimed_at < ? AND session_id = ?`,
			cutoff, *sessionDBID)
	} else {
		res, err = q.db.Exec(
			`UPDATE pending_messages SET status = 'pending', claimed_at = NULL
			 WHERE status = 'processing' AND claimed_at < ?`,
			cutoff)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetQueueView returns all non-processed rows joined to their session's
// project, for observability endpoints.
func (q *Queue) GetQueueView() ([]*models.PendingMessage, error) {
	rows, err := q.db.Query(
		`SELECT id, session_id, content_session_id, kind, tool_name, tool_input, tool_response,
		        last_assistant_message, cwd, status, retry_count, created_at, claimed_at, completed_at
		 FROM pending_messages WHERE status != 'processed' ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPendingMessages(rows)
}

// GetStuckCount counts processing rows older than threshold.
func (q *Queue) GetStuckCount(threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold).Unix()
	var n int
	err := q.db.QueryRow(
		`SELECT COUNT(*) FROM pending_messages WHERE status = 'processing' AND claimed_at < ?`, cutoff,
	).Scan(&n)
	return n, err
}

// HasAnyPendingWork performs a 5-minute stale sweep as a side effect, then
// reports whether any pending or processing rows remain.
func (q *Queue) HasAnyPendingWork() (bool, error) {
	if _, err := q.ResetStale(SweepStaleThreshold, nil); err != nil {
		return false, err
	}
	var n int
	err := q.db.QueryRow(
		`SELECT COUNT(*) FROM pending_messages WHERE status IN ('pending', 'processing')`,
	).Scan(&n)
	return n > 0, err
}

// GetSessionsWithPendingMessages lists distinct session ids with pending or
// processing rows, for the session manager's resume-on-startup sweep.
func (q *Queue) GetSessionsWithPendingMessages() ([]int64, error) {
	rows, err := q.db.Query(
		`SELECT DISTINCT session_id FROM pending_messages WHERE status IN ('pending', 'processing')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PendingCount returns the total number of pending or processing rows across
// every session, the aggregate queue depth reported by the processing status
// broadcast.
func (q *Queue) PendingCount() (int, error) {
	var n int
	err := q.db.QueryRow(
		`SELECT COUNT(*) FROM pending_messages WHERE status IN ('pending', 'processing')`,
	).Scan(&n)
	return n, err
}

// ClearFailed deletes all rows with status failed.
func (q *Queue) ClearFailed() (int64, error) {
	res, err := q.db.Exec(`DELETE FROM pending_messages WHERE status = 'failed'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearAllIncomplete deletes every row regardless of status.
func (q *Queue) ClearAllIncomplete() (int64, error) {
	res, err := q.db.Exec(`DELETE FROM pending_messages`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanPendingMessage(row *sql.Row) (*models.PendingMessage, error) {
	var m models.PendingMessage
	var createdAt int64
	var claimedAt, completedAt sql.NullInt64
	err := row.Scan(&m.ID, &m.SessionID, &m.ContentSessionID, &m.Kind, &m.ToolName, &m.ToolInput,
		&m.ToolResponse, &m.LastAssistantMessage, &m.Cwd, &m.Status, &m.RetryCount,
		&createdAt, &claimedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = time.Unix(createdAt, 0)
	if claimedAt.Valid {
		t := time.Unix(claimedAt.Int64, 0)
		m.ClaimedAt = &t
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		m.CompletedAt = &t
	}
	return &m, nil
}

func scanPendingMessages(rows *sql.Rows) ([]*models.PendingMessage, error) {
	var out []*models.PendingMessage
	for rows.Next() {
		var m models.PendingMessage
		var createdAt int64
		var claimedAt, completedAt sql.NullInt64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.ContentSessionID, &m.Kind, &m.ToolName, &m.ToolInput,
			&m.ToolResponse, &m.LastAssistantMessage, &m.Cwd, &m.Status, &m.RetryCount,
			&createdAt, &claimedAt, &completedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		if claimedAt.Valid {
			t := time.Unix(claimedAt.Int64, 0)
			m.ClaimedAt = &t
		}
		if completedAt.Valid {
			t := time.Unix(completedAt.Int64, 0)
			m.CompletedAt = &t
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
