package store

import (
	"database/sql"
	"time"

	"github.com/clmem/memoryd/pkg/models"
)

// CreateOrGetSession inserts a new session row for contentID, or returns
// the existing one. Later calls back-fill blank project/firstUserPrompt
// fields but never touch memory_session_id.
func (s *Store) CreateOrGetSession(contentID, project, userPrompt string) (int64, bool, error) {
	now := time.Now().Unix()

	res, err := s.db.Exec(
		`INSERT INTO sessions (content_session_id, project, first_user_prompt, status, created_at, updated_at)
		 VALUES (?, ?, ?, 'active', ?, ?)
		 ON CONFLICT(content_session_id) DO NOTHING`,
		contentID, project, userPrompt, now, now,
	)
	if err != nil {
		return 0, false, classifySQLiteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		id, _ := res.LastInsertId()
		return id, true, nil
	}

	// Row already existed: back-fill blanks, then fetch its id.
	if project != "" || userPrompt != "" {
		if _, err := s.db.Exec(
			`UPDATE sessions SET
				project = CASE WHEN project = '' THEN ? ELSE project END,
				first_user_prompt = CASE WHEN first_user_prompt = '' THEN ? ELSE first_user_prompt END,
				updated_at = ?
			 WHERE content_session_id = ?`,
			project, userPrompt, now, contentID,
		); err != nil {
			return 0, false, classifySQLiteErr(err)
		}
	}

	var id int64
	err = s.db.QueryRow(`SELECT id FROM sessions WHERE content_session_id = ?`, contentID).Scan(&id)
	if err != nil {
		return 0, false, classifySQLiteErr(err)
	}
	return id, false, nil
}

// SetMemorySessionID records or clears (id == nil) the memory session id for
// a session. Child rows keyed by memory_session_id follow via the caller
// re-reading; SQLite's foreign keys here are declared ON UPDATE CASCADE for
// parity with the spec's ownership model even though memory_session_id is
// not itself a key column of a child table.
func (s *Store) SetMemorySessionID(sessionDBID int64, id *string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET memory_session_id = ?, updated_at = ? WHERE id = ?`,
		id, time.Now().Unix(), sessionDBID,
	)
	return classifySQLiteErr(err)
}

// GetSession fetches one session by its internal id.
func (s *Store) GetSession(sessionDBID int64) (*models.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, content_session_id, memory_session_id, project, first_user_prompt, status, created_at, updated_at
		 FROM sessions WHERE id = ?`, sessionDBID)
	return scanSession(row)
}

// GetSessionByContentID fetches a session by its externally-supplied id.
func (s *Store) GetSessionByContentID(contentID string) (*models.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, content_session_id, memory_session_id, project, first_user_prompt, status, created_at, updated_at
		 FROM sessions WHERE content_session_id = ?`, contentID)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*models.Session, error) {
	var sess models.Session
	var memID sql.NullString
	var createdAt, updatedAt int64
	err := row.Scan(&sess.ID, &sess.ContentSessionID, &memID, &sess.Project,
		&sess.FirstUserPrompt, &sess.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifySQLiteErr(err)
	}
	if memID.Valid {
		v := memID.String
		sess.MemorySessionID = &v
	}
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	return &sess, nil
}

// ListProjects enumerates known projects ordered by most-recent activity.
func (s *Store) ListProjects() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT project FROM sessions WHERE project != '' GROUP BY project ORDER BY MAX(updated_at) DESC`)
	if err != nil {
		return nil, classifySQLiteErr(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListSessions returns sessions filtered by project (empty = all), newest
// first, paginated by offset/limit.
func (s *Store) ListSessions(project string, offset, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, content_session_id, memory_session_id, project, first_user_prompt, status, created_at, updated_at
	          FROM sessions WHERE (? = '' OR project = ?) ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.Query(query, project, project, limit, offset)
	if err != nil {
		return nil, classifySQLiteErr(err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		var sess models.Session
		var memID sql.NullString
		var createdAt, updatedAt int64
		if err := rows.Scan(&sess.ID, &sess.ContentSessionID, &memID, &sess.Project,
			&sess.FirstUserPrompt, &sess.Status, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if memID.Valid {
			v := memID.String
			sess.MemorySessionID = &v
		}
		sess.CreatedAt = time.Unix(createdAt, 0)
		sess.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// EndSession marks a session ended.
func (s *Store) EndSession(sessionDBID int64) error {
	res, err := s.db.Exec(`UPDATE sessions SET status = 'ended', updated_at = ? WHERE id = ?`,
		time.Now().Unix(), sessionDBID)
	if err != nil {
		return classifySQLiteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
