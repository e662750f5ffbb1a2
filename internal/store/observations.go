package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/clmem/memoryd/pkg/models"
)

// InsertObservationTx inserts one observation inside an open transaction,
// first probing for a duplicate (same session + content hash) within
// dedupWindow. If a duplicate is found its existing id is returned and
// deduped is true; the caller performs no insert in that case. This is the
// primitive Transactions.StoreObservations composes per spec §4.3.
func InsertObservationTx(tx *sql.Tx, obs *models.Observation, dedupWindow time.Duration, at time.Time) (id int64, deduped bool, err error) {
	hash := models.ContentHash(obs.SessionID, obs.Title, obs.Narrative)
	cutoff := at.Add(-dedupWindow).Unix()

	var existing int64
	err = tx.QueryRow(
		`SELECT id FROM observations WHERE session_id = ? AND content_hash = ? AND created_at >= ? ORDER BY id ASC LIMIT 1`,
		obs.SessionID, hash, cutoff,
	).Scan(&existing)
	if err == nil {
		return existing, true, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, classifySQLiteErr(err)
	}

	facts, _ := json.Marshal(obs.Facts)
	concepts, _ := json.Marshal(obs.Concepts)
	filesRead, _ := json.Marshal(obs.FilesRead)
	filesModified, _ := json.Marshal(obs.FilesModified)

	res, err := tx.Exec(
		`INSERT INTO observations
		 (session_id, project, type, title, subtitle, narrative, facts, concepts,
		  files_read, files_modified, prompt_number, discovery_tokens, content_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.SessionID, obs.Project, obs.Type, obs.Title, obs.Subtitle, obs.Narrative,
		string(facts), string(concepts), string(filesRead), string(filesModified),
		obs.PromptNumber, obs.DiscoveryTokens, hash, at.Unix(),
	)
	if err != nil {
		return 0, false, classifySQLiteErr(err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	return newID, false, nil
}

// BatchGetObservations fetches observations by id, in no particular order;
// callers needing index alignment re-map by id.
func (s *Store) BatchGetObservations(ids []int64) ([]*models.Observation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args := buildInClause(
		`SELECT id, session_id, project, type, title, subtitle, narrative, facts, concepts,
		        files_read, files_modified, prompt_number, discovery_tokens, content_hash, created_at
		 FROM observations WHERE id IN (%s)`, ids)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, classifySQLiteErr(err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

// ListObservations returns observations filtered by project, newest first.
func (s *Store) ListObservations(project string, offset, limit int) ([]*models.Observation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, session_id, project, type, title, subtitle, narrative, facts, concepts,
		        files_read, files_modified, prompt_number, discovery_tokens, content_hash, created_at
		 FROM observations WHERE (? = '' OR project = ?) ORDER BY id DESC LIMIT ? OFFSET ?`,
		project, project, limit, offset,
	)
	if err != nil {
		return nil, classifySQLiteErr(err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

// GetObservation fetches a single observation by id.
func (s *Store) GetObservation(id int64) (*models.Observation, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, project, type, title, subtitle, narrative, facts, concepts,
		        files_read, files_modified, prompt_number, discovery_tokens, content_hash, created_at
		 FROM observations WHERE id = ?`, id)
	if err != nil {
		return nil, classifySQLiteErr(err)
	}
	defer rows.Close()
	list, err := scanObservations(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

func scanObservations(rows *sql.Rows) ([]*models.Observation, error) {
	var out []*models.Observation
	for rows.Next() {
		var o models.Observation
		var facts, concepts, filesRead, filesModified string
		var createdAt int64
		if err := rows.Scan(&o.ID, &o.SessionID, &o.Project, &o.Type, &o.Title, &o.Subtitle,
			&o.Narrative, &facts, &concepts, &filesRead, &filesModified,
			&o.PromptNumber, &o.DiscoveryTokens, &o.ContentHash, &createdAt); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(facts), &o.Facts)
		json.Unmarshal([]byte(concepts), &o.Concepts)
		json.Unmarshal([]byte(filesRead), &o.FilesRead)
		json.Unmarshal([]byte(filesModified), &o.FilesModified)
		o.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &o)
	}
	return out, rows.Err()
}
