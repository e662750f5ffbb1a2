package agent

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clmem/memoryd/internal/queue"
	"github.com/clmem/memoryd/internal/response"
	"github.com/clmem/memoryd/internal/store"
	"github.com/clmem/memoryd/internal/txn"
	"github.com/clmem/memoryd/pkg/models"
)

type scriptedProvider struct {
	replies []string
	calls   int
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	idx := p.calls
	p.calls++
	text := ""
	if idx < len(p.replies) {
		text = p.replies[idx]
	}
	ch := make(chan *CompletionChunk, 2)
	ch <- &CompletionChunk{Text: text}
	ch <- &CompletionChunk{Done: true, InputTokens: 10, OutputTokens: 20}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []Model     { return nil }
func (p *scriptedProvider) SupportsTools() bool { return false }

func newRunnerHarness(t *testing.T) (*store.Store, *queue.Queue, *Runner, int64) {
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
	proc := response.New(s, q, tr, nil, nil, nil, nil)

	provider := &scriptedProvider{replies: []string{
		`<observation><type>discovery</type><title>t</title><narrative>n</narrative></observation>`,
	}}

	sess, ctx := models.NewActiveSession(sid, "cs-1", "proj", context.Background())
	r := New(sess, ctx, provider, q, proc, "scripted-model", DefaultConfig(), nil)
	return s, q, r, sid
}

func TestRunnerProcessesOneQueuedObservation(t *testing.T) {
	s, q, r, sid := newRunnerHarness(t)

	_, err := q.Enqueue(sid, "cs-1", &models.PendingMessage{Kind: models.KindObservation, ToolName: "Bash"})
	require.NoError(t, err)

	r.Run()

	obs, err := s.ListObservations("proj", 0, 10)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	require.Equal(t, "t", obs[0].Title)

	view, err := q.GetQueueView()
	require.NoError(t, err)
	require.Len(t, view, 0)
	require.False(t, r.sess.Alive())
}

func TestRunnerExitsImmediatelyOnEmptyQueue(t *testing.T) {
	_, _, r, _ := newRunnerHarness(t)
	r.Run()
	require.False(t, r.sess.Alive())
}

func TestTruncatedHistoryRespectsMaxMessages(t *testing.T) {
	sess, ctx := models.NewActiveSession(1, "cs-1", "proj", context.Background())
	_ = ctx
	for i := 0; i < 5; i++ {
		sess.AppendHistory(models.RoleUser, "hello")
		sess.AppendHistory(models.RoleAssistant, "world")
	}
	r := &Runner{sess: sess, cfg: Config{MaxHistoryMessages: 3, MaxHistoryTokens: 1000000}, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	out := r.truncatedHistory()
	require.Len(t, out, 3)
	require.Equal(t, "world", out[2].Content)
}
