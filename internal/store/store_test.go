package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clmem/memoryd/internal/store"
	"github.com/clmem/memoryd/pkg/models"
)

func openTest(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateOrGetSessionIdempotent(t *testing.T) {
	s := openTest(t)

	id1, created1, err := s.CreateOrGetSession("cs-1", "proj", "hello")
	require.NoError(t, err)
	require.True(t, created1)

	id2, created2, err := s.CreateOrGetSession("cs-1", "", "")
	require.NoError(t, err)
	require.False(t, created2)
	require.Equal(t, id1, id2)

	// Later call supplying blanks back-fills them but never overwrites.
	id3, _, err := s.CreateOrGetSession("cs-1", "proj2", "later")
	require.NoError(t, err)
	require.Equal(t, id1, id3)

	sess, err := s.GetSession(id1)
	require.NoError(t, err)
	require.Equal(t, "proj", sess.Project) // first value wins, not back-filled over
	require.Nil(t, sess.MemorySessionID)
}

func TestSetMemorySessionIDNeverOverwrittenByCreateOrGet(t *testing.T) {
	s := openTest(t)
	id, _, err := s.CreateOrGetSession("cs-2", "proj", "hi")
	require.NoError(t, err)

	memID := "mem-abc"
	require.NoError(t, s.SetMemorySessionID(id, &memID))

	_, _, err = s.CreateOrGetSession("cs-2", "proj", "hi")
	require.NoError(t, err)

	sess, err := s.GetSession(id)
	require.NoError(t, err)
	require.NotNil(t, sess.MemorySessionID)
	require.Equal(t, memID, *sess.MemorySessionID)
}

func TestObservationRoundTrip(t *testing.T) {
	s := openTest(t)
	sid, _, err := s.CreateOrGetSession("cs-3", "proj", "hi")
	require.NoError(t, err)

	tx, err := s.DB().Begin()
	require.NoError(t, err)

	obs := &models.Observation{
		SessionID:     sid,
		Project:       "proj",
		Type:          models.ObsDiscovery,
		Title:         "List dir",
		Subtitle:      "sub",
		Narrative:     "ran ls",
		Facts:         []string{"fact1", "fact2"},
		Concepts:      []string{"concept1"},
		FilesRead:     []string{"a.go"},
		FilesModified: []string{"b.go"},
		PromptNumber:  1,
	}
	id, deduped, err := store.InsertObservationTx(tx, obs, 30*time.Second, time.Now())
	require.NoError(t, err)
	require.False(t, deduped)
	require.NoError(t, tx.Commit())

	got, err := s.GetObservation(id)
	require.NoError(t, err)
	require.Equal(t, obs.Title, got.Title)
	require.Equal(t, obs.Narrative, got.Narrative)
	require.Equal(t, []string{"fact1", "fact2"}, got.Facts)
	require.Equal(t, []string{"concept1"}, got.Concepts)
	require.Equal(t, []string{"a.go"}, got.FilesRead)
	require.Equal(t, []string{"b.go"}, got.FilesModified)
}

func TestObservationDedupWindow(t *testing.T) {
	s := openTest(t)
	sid, _, err := s.CreateOrGetSession("cs-4", "proj", "hi")
	require.NoError(t, err)

	base := time.Now()
	obs := &models.Observation{SessionID: sid, Type: models.ObsDiscovery, Title: "t", Narrative: "n"}

	tx1, _ := s.DB().Begin()
	id1, deduped1, err := store.InsertObservationTx(tx1, obs, 30*time.Second, base)
	require.NoError(t, err)
	require.False(t, deduped1)
	require.NoError(t, tx1.Commit())

	// Within window: collapses to the same id.
	tx2, _ := s.DB().Begin()
	id2, deduped2, err := store.InsertObservationTx(tx2, obs, 30*time.Second, base.Add(5*time.Second))
	require.NoError(t, err)
	require.True(t, deduped2)
	require.Equal(t, id1, id2)
	require.NoError(t, tx2.Commit())

	// Outside window: distinct id.
	tx3, _ := s.DB().Begin()
	id3, deduped3, err := store.InsertObservationTx(tx3, obs, 30*time.Second, base.Add(31*time.Second))
	require.NoError(t, err)
	require.False(t, deduped3)
	require.NotEqual(t, id1, id3)
	require.NoError(t, tx3.Commit())
}
