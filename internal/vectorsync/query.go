package vectorsync

import (
	"context"
	"encoding/json"
	"sort"
)

// QueryResult is one deduplicated hit returned from Query.
type QueryResult struct {
	SqliteID int64
	DocType  DocType
	Distance float64
}

type rawQueryResponse struct {
	SqliteIDs []int64   `json:"sqlite_ids"`
	DocTypes  []DocType `json:"doc_types"`
	Distances []float64 `json:"distances"`
}

// Query performs a semantic search against collection. The subprocess
// returns parallel arrays per document; since multiple documents can share
// one sqlite_id (split-field indexing), the caller must deduplicate by id
// while preserving rank order and keeping the best (lowest) distance seen
// for each id — which this method does before returning.
func (s *Sync) Query(ctx context.Context, project, queryText string, limit int, where map[string]any) ([]QueryResult, error) {
	params := map[string]any{
		"collection": CollectionName(project),
		"query":      queryText,
		"limit":      limit,
	}
	if where != nil {
		params["where"] = where
	}

	raw, err := s.client.invoke(ctx, "query", params)
	if err != nil {
		return nil, err
	}

	var resp rawQueryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}

	best := make(map[int64]QueryResult)
	order := make([]int64, 0, len(resp.SqliteIDs))
	for i, id := range resp.SqliteIDs {
		dist := resp.Distances[i]
		docType := DocType("")
		if i < len(resp.DocTypes) {
			docType = resp.DocTypes[i]
		}
		if existing, ok := best[id]; !ok {
			best[id] = QueryResult{SqliteID: id, DocType: docType, Distance: dist}
			order = append(order, id)
		} else if dist < existing.Distance {
			existing.Distance = dist
			best[id] = existing
		}
	}

	out := make([]QueryResult, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

// EnsureBackfilled enumerates sqlite_ids already present in project's
// collection, then returns only those from candidateIDs that are missing,
// so the caller can insert them in fixed-size batches.
func (s *Sync) EnsureBackfilled(ctx context.Context, project string, candidateIDs []int64) ([]int64, error) {
	raw, err := s.client.invoke(ctx, "list_ids", map[string]any{"collection": CollectionName(project)})
	if err != nil {
		return nil, err
	}
	var existing []int64
	if err := json.Unmarshal(raw, &existing); err != nil {
		return nil, err
	}
	have := make(map[int64]bool, len(existing))
	for _, id := range existing {
		have[id] = true
	}
	var missing []int64
	for _, id := range candidateIDs {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
