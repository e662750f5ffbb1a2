package txn_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clmem/memoryd/internal/store"
	"github.com/clmem/memoryd/internal/txn"
	"github.com/clmem/memoryd/pkg/models"
)

func TestStoreObservationsAtomicity(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer s.Close()

	sid, _, err := s.CreateOrGetSession("cs-1", "proj", "hi")
	require.NoError(t, err)

	tr := txn.New(s.DB())

	result, err := tr.StoreObservations(sid, "proj", []*models.Observation{
		{Type: models.ObsDiscovery, Title: "a", Narrative: "na"},
		{Type: models.ObsDiscovery, Title: "b", Narrative: "nb"},
	}, &models.SessionSummary{Request: "req"}, nil)
	require.NoError(t, err)
	require.Len(t, result.ObservationIDs, 2)
	require.NotNil(t, result.SummaryID)

	list, err := s.ListObservations("proj", 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)

	summaries, err := s.ListSummaries("proj", 0, 10)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
}

func TestStoreObservationsRollbackOnFailure(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer s.Close()

	tr := txn.New(s.DB())

	// sessionID 0 has no row in sessions, violating the FK constraint on
	// observations.session_id; the whole transaction must roll back.
	_, err = tr.StoreObservations(0, "proj", []*models.Observation{
		{Type: models.ObsDiscovery, Title: "a", Narrative: "na"},
	}, nil, nil)
	require.Error(t, err)

	list, err := s.ListObservations("proj", 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 0)
}
