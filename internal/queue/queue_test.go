package queue_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clmem/memoryd/internal/queue"
	"github.com/clmem/memoryd/internal/store"
	"github.com/clmem/memoryd/pkg/models"
)

func setup(t *testing.T) (*store.Store, *queue.Queue, int64) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sid, _, err := s.CreateOrGetSession("cs-1", "proj", "hi")
	require.NoError(t, err)

	q := queue.New(s.DB(), nil)
	return s, q, sid
}

func TestClaimConfirmFIFO(t *testing.T) {
	_, q, sid := setup(t)

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := q.Enqueue(sid, "cs-1", &models.PendingMessage{Kind: models.KindObservation, ToolName: "Bash"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, want := range ids {
		msg, err := q.ClaimNext(sid)
		require.NoError(t, err)
		require.NotNil(t, msg)
		require.Equal(t, want, msg.ID)
		require.Equal(t, models.StatusProcessing, msg.Status)
		require.NoError(t, q.Confirm(msg.ID))
	}

	msg, err := q.ClaimNext(sid)
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestSelfHealRecoversStaleProcessingRow(t *testing.T) {
	db, q, sid := setup(t)

	id, err := q.Enqueue(sid, "cs-1", &models.PendingMessage{Kind: models.KindObservation})
	require.NoError(t, err)

	// Simulate a crashed claim: row stuck in processing with an old claim.
	staleClaim := time.Now().Add(-2 * time.Minute).Unix()
	_, err = db.DB().Exec(`UPDATE pending_messages SET status = 'processing', claimed_at = ? WHERE id = ?`, staleClaim, id)
	require.NoError(t, err)

	msg, err := q.ClaimNext(sid)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, id, msg.ID)
}

func TestMarkFailedRetriesThenFails(t *testing.T) {
	_, q, sid := setup(t)
	id, err := q.Enqueue(sid, "cs-1", &models.PendingMessage{Kind: models.KindObservation})
	require.NoError(t, err)

	for i := 0; i < models.DefaultMaxRetries-1; i++ {
		require.NoError(t, q.MarkFailed(id))
		msg, err := q.ClaimNext(sid)
		require.NoError(t, err)
		require.NotNil(t, msg)
	}
	require.NoError(t, q.MarkFailed(id))

	view, err := q.GetQueueView()
	require.NoError(t, err)
	require.Len(t, view, 1)
	require.Equal(t, models.StatusFailed, view[0].Status)
}

func TestHasAnyPendingWorkSweepsStale(t *testing.T) {
	db, q, sid := setup(t)
	id, err := q.Enqueue(sid, "cs-1", &models.PendingMessage{Kind: models.KindObservation})
	require.NoError(t, err)

	staleClaim := time.Now().Add(-10 * time.Minute).Unix()
	_, err = db.DB().Exec(`UPDATE pending_messages SET status = 'processing', claimed_at = ? WHERE id = ?`, staleClaim, id)
	require.NoError(t, err)

	has, err := q.HasAnyPendingWork()
	require.NoError(t, err)
	require.True(t, has)

	view, err := q.GetQueueView()
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, view[0].Status)
}
