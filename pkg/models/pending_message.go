package models

import "time"

// PendingMessageKind distinguishes an observation event from an
// end-of-session summarize request.
type PendingMessageKind string

const (
	KindObservation PendingMessageKind = "observation"
	KindSummarize   PendingMessageKind = "summarize"
)

// PendingMessageStatus is the claim-confirm state of a queue row.
type PendingMessageStatus string

const (
	StatusPending    PendingMessageStatus = "pending"
	StatusProcessing PendingMessageStatus = "processing"
	StatusProcessed  PendingMessageStatus = "processed"
	StatusFailed     PendingMessageStatus = "failed"
)

// DefaultMaxRetries is the retry budget before a soft failure is permanent.
const DefaultMaxRetries = 3

// PendingMessage is one row of the durable work queue.
type PendingMessage struct {
	ID                  int64
	SessionID           int64
	ContentSessionID    string
	Kind                PendingMessageKind
	ToolName            string
	ToolInput           []byte // raw JSON, opaque at this layer
	ToolResponse        []byte // raw JSON, opaque at this layer
	LastAssistantMessage string
	Cwd                 string
	Status              PendingMessageStatus
	RetryCount          int
	CreatedAt           time.Time
	ClaimedAt           *time.Time
	CompletedAt         *time.Time
}

// IsStale reports whether a processing row's claim has aged past threshold,
// meaning its worker is presumed dead and the row is eligible for self-heal.
func (m *PendingMessage) IsStale(now time.Time, threshold time.Duration) bool {
	if m.Status != StatusProcessing || m.ClaimedAt == nil {
		return false
	}
	return now.Sub(*m.ClaimedAt) > threshold
}
