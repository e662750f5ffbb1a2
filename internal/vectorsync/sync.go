package vectorsync

import (
	"context"
	"log/slog"

	"github.com/clmem/memoryd/pkg/models"
)

// DocType distinguishes the three shapes of mirrored document.
type DocType string

const (
	DocObservation   DocType = "observation"
	DocSessionSummary DocType = "session_summary"
	DocUserPrompt    DocType = "user_prompt"
)

// Document is one unit mirrored into the vector store. Observations and
// summaries are split into one Document per semantic field; user prompts
// are one Document each.
type Document struct {
	SqliteID       int64   `json:"sqlite_id"`
	Project        string  `json:"project"`
	DocType        DocType `json:"doc_type"`
	Field          string  `json:"field"`
	Text           string  `json:"text"`
	CreatedAtEpoch int64   `json:"created_at_epoch"`
}

// Sync mirrors stored rows into the vector store. All three Sync* methods
// are fire-and-forget from the caller's perspective: failures are logged,
// never propagated, per the ResponseProcessor's fan-out contract.
type Sync struct {
	client *Client
	logger *slog.Logger
}

// NewSync constructs a Sync fan-out helper over client.
func NewSync(client *Client, logger *slog.Logger) *Sync {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sync{client: client, logger: logger}
}

// SyncObservation splits an observation into one document per semantic
// field (narrative, each fact) and indexes them.
func (s *Sync) SyncObservation(ctx context.Context, obs *models.Observation) {
	docs := []Document{{
		SqliteID: obs.ID, Project: obs.Project, DocType: DocObservation,
		Field: "narrative", Text: obs.Narrative, CreatedAtEpoch: obs.CreatedAt.Unix(),
	}}
	for i, fact := range obs.Facts {
		docs = append(docs, Document{
			SqliteID: obs.ID, Project: obs.Project, DocType: DocObservation,
			Field: factField(i), Text: fact, CreatedAtEpoch: obs.CreatedAt.Unix(),
		})
	}
	s.index(ctx, CollectionName(obs.Project), docs)
}

// SyncSummary splits a summary into one document per field.
func (s *Sync) SyncSummary(ctx context.Context, sum *models.SessionSummary) {
	fields := map[string]string{
		"request": sum.Request, "investigated": sum.Investigated, "learned": sum.Learned,
		"completed": sum.Completed, "next_steps": sum.NextSteps, "notes": sum.Notes,
	}
	var docs []Document
	for field, text := range fields {
		if text == "" {
			continue
		}
		docs = append(docs, Document{
			SqliteID: sum.ID, Project: sum.Project, DocType: DocSessionSummary,
			Field: field, Text: text, CreatedAtEpoch: sum.CreatedAt.Unix(),
		})
	}
	s.index(ctx, CollectionName(sum.Project), docs)
}

// SyncUserPrompt indexes one user prompt as a single document.
func (s *Sync) SyncUserPrompt(ctx context.Context, project string, prompt *models.UserPrompt) {
	s.index(ctx, CollectionName(project), []Document{{
		SqliteID: prompt.ID, Project: project, DocType: DocUserPrompt,
		Field: "text", Text: prompt.Text, CreatedAtEpoch: prompt.CreatedAt.Unix(),
	}})
}

func (s *Sync) index(ctx context.Context, collection string, docs []Document) {
	if len(docs) == 0 {
		return
	}
	if _, err := s.client.invoke(ctx, "index", map[string]any{
		"collection": collection,
		"documents":  docs,
	}); err != nil {
		s.logger.Warn("vectorsync index failed", "collection", collection, "error", err)
	}
}

func factField(i int) string {
	return "fact_" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}
