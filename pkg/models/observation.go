package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ObservationType classifies the kind of work an observation distills.
type ObservationType string

const (
	ObsDiscovery ObservationType = "discovery"
	ObsBugfix    ObservationType = "bugfix"
	ObsFeature   ObservationType = "feature"
	ObsRefactor  ObservationType = "refactor"
	ObsChange    ObservationType = "change"
	ObsDecision  ObservationType = "decision"
	ObsSession   ObservationType = "session"
	ObsPrompt    ObservationType = "prompt"
)

// Observation is a structured record of one tool use, distilled by the LLM.
type Observation struct {
	ID              int64
	SessionID       int64
	Project         string
	Type            ObservationType
	Title           string
	Subtitle        string
	Narrative       string
	Facts           []string
	Concepts        []string
	FilesRead       []string
	FilesModified   []string
	PromptNumber    int
	DiscoveryTokens int
	ContentHash     string
	CreatedAt       time.Time
}

// ContentHash computes the 16-hex-char dedup digest for an observation:
// sha256(sessionID + title + narrative), truncated.
func ContentHash(sessionID int64, title, narrative string) string {
	h := sha256.New()
	h.Write(itoa(sessionID))
	h.Write([]byte(title))
	h.Write([]byte(narrative))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:16]
}

func itoa(v int64) []byte {
	if v == 0 {
		return []byte{'0'}
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return buf[i:]
}
