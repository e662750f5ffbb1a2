package response_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clmem/memoryd/internal/queue"
	"github.com/clmem/memoryd/internal/response"
	"github.com/clmem/memoryd/internal/store"
	"github.com/clmem/memoryd/internal/txn"
	"github.com/clmem/memoryd/pkg/models"
)

type fakeBroadcast struct {
	events []string
}

func (f *fakeBroadcast) Publish(event string, sessionDBID int64, payload any) {
	f.events = append(f.events, event)
}

func newHarness(t *testing.T) (*store.Store, *queue.Queue, *response.Processor, int64, *fakeBroadcast) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sid, _, err := s.CreateOrGetSession("cs-1", "proj", "hi")
	require.NoError(t, err)
	memID := "mem-1"
	require.NoError(t, s.SetMemorySessionID(sid, &memID))

	q := queue.New(s.DB(), nil)
	tr := txn.New(s.DB())
	bc := &fakeBroadcast{}
	proc := response.New(s, q, tr, nil, bc, nil, nil)
	return s, q, proc, sid, bc
}

func TestProcessSingleObservation(t *testing.T) {
	s, q, proc, sid, bc := newHarness(t)

	msgID, err := q.Enqueue(sid, "cs-1", &models.PendingMessage{Kind: models.KindObservation, ToolName: "Bash"})
	require.NoError(t, err)
	claimed, err := q.ClaimNext(sid)
	require.NoError(t, err)
	require.Equal(t, msgID, claimed.ID)

	sess, _ := models.NewActiveSession(sid, "cs-1", "proj", context.Background())
	sess.TrackInFlight(msgID, claimed.CreatedAt)

	reply := `<observation><type>discovery</type><title>List dir</title><narrative>ran ls</narrative></observation>`
	require.NoError(t, proc.Process(context.Background(), sess, reply))

	obs, err := s.ListObservations("proj", 0, 10)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	require.Equal(t, "List dir", obs[0].Title)

	view, err := q.GetQueueView()
	require.NoError(t, err)
	require.Len(t, view, 0)

	require.Contains(t, bc.events, "observation")
}

func TestProcessDedupWindowTwoMessagesOneObservation(t *testing.T) {
	s, q, proc, sid, _ := newHarness(t)

	reply := `<observation><type>discovery</type><title>t</title><narrative>n</narrative></observation>`

	for i := 0; i < 2; i++ {
		msgID, err := q.Enqueue(sid, "cs-1", &models.PendingMessage{Kind: models.KindObservation})
		require.NoError(t, err)
		claimed, err := q.ClaimNext(sid)
		require.NoError(t, err)

		sess, _ := models.NewActiveSession(sid, "cs-1", "proj", context.Background())
		sess.TrackInFlight(msgID, claimed.CreatedAt)
		require.NoError(t, proc.Process(context.Background(), sess, reply))
	}

	obs, err := s.ListObservations("proj", 0, 10)
	require.NoError(t, err)
	require.Len(t, obs, 1)
}
