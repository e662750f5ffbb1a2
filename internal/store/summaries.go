package store

import (
	"database/sql"
	"time"

	"github.com/clmem/memoryd/pkg/models"
)

// InsertSummaryTx inserts one session summary inside an open transaction.
func InsertSummaryTx(tx *sql.Tx, sum *models.SessionSummary, at time.Time) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO session_summaries
		 (session_id, project, request, investigated, learned, completed, next_steps, notes, discovery_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.SessionID, sum.Project, sum.Request, sum.Investigated, sum.Learned,
		sum.Completed, sum.NextSteps, sum.Notes, sum.DiscoveryTokens, at.Unix(),
	)
	if err != nil {
		return 0, classifySQLiteErr(err)
	}
	return res.LastInsertId()
}

// BatchGetSummaries fetches summaries by id.
func (s *Store) BatchGetSummaries(ids []int64) ([]*models.SessionSummary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args := buildInClause(
		`SELECT id, session_id, project, request, investigated, learned, completed, next_steps, notes, discovery_tokens, created_at
		 FROM session_summaries WHERE id IN (%s)`, ids)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, classifySQLiteErr(err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// ListSummaries returns summaries filtered by project, newest first.
func (s *Store) ListSummaries(project string, offset, limit int) ([]*models.SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, session_id, project, request, investigated, learned, completed, next_steps, notes, discovery_tokens, created_at
		 FROM session_summaries WHERE (? = '' OR project = ?) ORDER BY id DESC LIMIT ? OFFSET ?`,
		project, project, limit, offset,
	)
	if err != nil {
		return nil, classifySQLiteErr(err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// GetSummary fetches a single summary by id.
func (s *Store) GetSummary(id int64) (*models.SessionSummary, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, project, request, investigated, learned, completed, next_steps, notes, discovery_tokens, created_at
		 FROM session_summaries WHERE id = ?`, id)
	if err != nil {
		return nil, classifySQLiteErr(err)
	}
	defer rows.Close()
	list, err := scanSummaries(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

func scanSummaries(rows *sql.Rows) ([]*models.SessionSummary, error) {
	var out []*models.SessionSummary
	for rows.Next() {
		var sum models.SessionSummary
		var createdAt int64
		if err := rows.Scan(&sum.ID, &sum.SessionID, &sum.Project, &sum.Request, &sum.Investigated,
			&sum.Learned, &sum.Completed, &sum.NextSteps, &sum.Notes, &sum.DiscoveryTokens, &createdAt); err != nil {
			return nil, err
		}
		sum.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &sum)
	}
	return out, rows.Err()
}
