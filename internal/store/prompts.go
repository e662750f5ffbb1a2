package store

import (
	"time"

	"github.com/clmem/memoryd/pkg/models"
)

// InsertUserPrompt records one user turn.
func (s *Store) InsertUserPrompt(sessionDBID int64, promptNumber int, text string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO user_prompts (session_id, prompt_number, text, created_at) VALUES (?, ?, ?, ?)`,
		sessionDBID, promptNumber, text, time.Now().Unix(),
	)
	if err != nil {
		return 0, classifySQLiteErr(err)
	}
	return res.LastInsertId()
}

// NextPromptNumber returns the prompt number the next InsertUserPrompt call
// for this session should use.
func (s *Store) NextPromptNumber(sessionDBID int64) (int, error) {
	var max int
	err := s.db.QueryRow(
		`SELECT COALESCE(MAX(prompt_number), 0) FROM user_prompts WHERE session_id = ?`, sessionDBID,
	).Scan(&max)
	if err != nil {
		return 0, classifySQLiteErr(err)
	}
	return max + 1, nil
}

// ListPrompts returns a session's user prompts in prompt_number order.
func (s *Store) ListPrompts(sessionDBID int64, offset, limit int) ([]*models.UserPrompt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, session_id, prompt_number, text, created_at FROM user_prompts
		 WHERE session_id = ? ORDER BY prompt_number ASC LIMIT ? OFFSET ?`,
		sessionDBID, limit, offset,
	)
	if err != nil {
		return nil, classifySQLiteErr(err)
	}
	defer rows.Close()

	var out []*models.UserPrompt
	for rows.Next() {
		var p models.UserPrompt
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.SessionID, &p.PromptNumber, &p.Text, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &p)
	}
	return out, rows.Err()
}
