package models

import "time"

// SessionStatus is the lifecycle state of a Session row.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Session identifies one continuous user conversation.
//
// ContentSessionID is the externally-supplied opaque identifier the IDE
// hook sends on every call. MemorySessionID is captured from the first LLM
// reply of the session and must never equal ContentSessionID — see
// EnsureDistinctFromContentID.
type Session struct {
	ID                int64
	ContentSessionID  string
	MemorySessionID   *string
	Project           string
	FirstUserPrompt   string
	Status            SessionStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EnsureDistinctFromContentID reports whether id is safe to store as this
// session's memory session id. A memory id identical to the content id
// would collapse the two identifier spaces the rest of the system assumes
// are independent.
func (s *Session) EnsureDistinctFromContentID(id string) bool {
	return id != "" && id != s.ContentSessionID
}
