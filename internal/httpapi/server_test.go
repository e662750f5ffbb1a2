package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clmem/memoryd/internal/health"
	"github.com/clmem/memoryd/internal/queue"
	"github.com/clmem/memoryd/internal/sessionmgr"
	"github.com/clmem/memoryd/internal/store"
	"github.com/clmem/memoryd/pkg/models"
)

func newTestServer(t *testing.T) (*Server, *store.Store, *queue.Queue) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	q := queue.New(st.DB(), nil)
	spawn := func(sess *models.ActiveSession, ctx context.Context) {
		go sess.MarkDone() // tests drive processing explicitly, no real runner
	}
	mgr := sessionmgr.New(st, q, spawn, nil)
	mon := health.NewMonitor(nil, nil)
	mon.SetInitialized()

	srv := NewServer(Config{
		Store:       st,
		Queue:       q,
		Sessions:    mgr,
		Health:      mon,
		Broadcaster: NewBroadcaster(),
	})
	return srv, st, q
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "127.0.0.1:50000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSessionsInitCreatesSessionAndSpawnsGenerator(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/sessions/init", sessionsInitRequest{
		ContentSessionID: "cs-1", Project: "proj", UserPrompt: "hello",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sessionsInitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotZero(t, resp.SessionDBID)
	require.Equal(t, 1, resp.PromptNumber)
	require.False(t, resp.ContextInjected)
}

func TestSessionsObservationsEnqueuesAndProcessingStatusReflectsIt(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	doJSON(t, h, http.MethodPost, "/api/sessions/init", sessionsInitRequest{ContentSessionID: "cs-1", Project: "proj", UserPrompt: "hi"})

	rec := doJSON(t, h, http.MethodPost, "/api/sessions/observations", observationRequest{
		ContentSessionID: "cs-1", ToolName: "Bash",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec2 := doJSON(t, h, http.MethodGet, "/api/processing-status", nil)
	require.Equal(t, http.StatusOK, rec2.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &status))
	require.Equal(t, float64(1), status["totalPending"])
}

func TestPendingQueueViewAndClear(t *testing.T) {
	srv, _, q := newTestServer(t)
	h := srv.Handler()

	doJSON(t, h, http.MethodPost, "/api/sessions/init", sessionsInitRequest{ContentSessionID: "cs-1", Project: "proj", UserPrompt: "hi"})
	doJSON(t, h, http.MethodPost, "/api/sessions/observations", observationRequest{ContentSessionID: "cs-1", ToolName: "Bash"})

	rec := doJSON(t, h, http.MethodGet, "/api/pending-queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	view, err := q.GetQueueView()
	require.NoError(t, err)
	require.Len(t, view, 1)

	rec2 := doJSON(t, h, http.MethodDelete, "/api/pending-queue/all", nil)
	require.Equal(t, http.StatusOK, rec2.Code)

	view2, err := q.GetQueueView()
	require.NoError(t, err)
	require.Len(t, view2, 0)
}

func TestCORSHeaderOnlyForLocalhostOrigin(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.RemoteAddr = "127.0.0.1:50000"
	req.Header.Set("Origin", "http://evil.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req2 := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req2.RemoteAddr = "127.0.0.1:50000"
	req2.Header.Set("Origin", "http://localhost:37777")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	require.Equal(t, "http://localhost:37777", rec2.Header().Get("Access-Control-Allow-Origin"))
}

func TestNonLoopbackRequestRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.RemoteAddr = "8.8.8.8:12345"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStreamEventsDeliversPublishedFrame(t *testing.T) {
	srv, _, _ := newTestServer(t)

	id, ch := srv.broadcaster.Subscribe()
	defer srv.broadcaster.Unsubscribe(id)

	srv.broadcaster.Publish("observation", 1, map[string]string{"title": "t"})

	select {
	case frame := <-ch:
		require.Contains(t, string(frame), "event: observation")
		require.Contains(t, string(frame), `"title":"t"`)
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestContextInjectRendersObservations(t *testing.T) {
	srv, st, _ := newTestServer(t)
	h := srv.Handler()

	sid, _, err := st.CreateOrGetSession("cs-1", "proj", "hi")
	require.NoError(t, err)
	memID := "mem-1"
	require.NoError(t, st.SetMemorySessionID(sid, &memID))

	_, _, err = insertTestObservation(st, sid, "proj")
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodGet, "/api/context/inject?projects=proj", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "List dir")
}

// insertTestObservation is a thin helper so the context-inject test doesn't
// need a real LLM reply parsed through response.Processor.
func insertTestObservation(st *store.Store, sessionID int64, project string) (int64, bool, error) {
	tx, err := st.DB().Begin()
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	id, deduped, err := store.InsertObservationTx(tx, &models.Observation{
		SessionID: sessionID,
		Project:   project,
		Type:      models.ObsDiscovery,
		Title:     "List dir",
		Narrative: "ran ls",
	}, 30*time.Second, time.Now())
	if err != nil {
		return 0, false, err
	}
	return id, deduped, tx.Commit()
}
