package models

import "time"

// UserPrompt is one user turn within a session, ordered by PromptNumber.
type UserPrompt struct {
	ID           int64
	SessionID    int64
	PromptNumber int
	Text         string
	CreatedAt    time.Time
}
