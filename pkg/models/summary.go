package models

import "time"

// SessionSummary is the one end-of-session artifact produced when a Stop
// event triggers summarization.
type SessionSummary struct {
	ID              int64
	SessionID       int64
	Project         string
	Request         string
	Investigated    string
	Learned         string
	Completed       string
	NextSteps       string
	Notes           string
	DiscoveryTokens int
	CreatedAt       time.Time
}
