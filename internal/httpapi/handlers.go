package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/clmem/memoryd/internal/store"
	"github.com/clmem/memoryd/pkg/models"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeStoreError translates a Store/queue error to the status codes
// spec §4.10 names: not-found -> 404, everything else -> 500.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func pathInt64(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

func queryPaging(r *http.Request) (project string, offset, limit int) {
	q := r.URL.Query()
	project = q.Get("project")
	offset, _ = strconv.Atoi(q.Get("offset"))
	limit, _ = strconv.Atoi(q.Get("limit"))
	return project, offset, limit
}

// --- sessions ---

type sessionsInitRequest struct {
	ContentSessionID string `json:"contentSessionId"`
	Project          string `json:"project"`
	UserPrompt       string `json:"userPrompt"`
	Platform         string `json:"platform"`
}

type sessionsInitResponse struct {
	SessionDBID     int64 `json:"sessionDbId"`
	PromptNumber    int   `json:"promptNumber"`
	ContextInjected bool  `json:"contextInjected"`
	Skipped         bool  `json:"skipped"`
}

func (s *Server) handleSessionsInit(w http.ResponseWriter, r *http.Request) {
	var req sessionsInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	if req.ContentSessionID == "" {
		writeBadRequest(w, "contentSessionId is required")
		return
	}

	sessionDBID, promptNumber, contextInjected, err := s.sessions.EnsureStarted(req.ContentSessionID, req.Project, req.UserPrompt)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionsInitResponse{
		SessionDBID:     sessionDBID,
		PromptNumber:    promptNumber,
		ContextInjected: contextInjected,
	})
}

func (s *Server) handleSessionInitByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeBadRequest(w, "invalid session id")
		return
	}
	contextInjected, err := s.sessions.EnsureStartedByID(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"contextInjected": contextInjected})
}

type observationRequest struct {
	ContentSessionID string          `json:"contentSessionId"`
	ToolName         string          `json:"tool_name"`
	ToolInput        json.RawMessage `json:"tool_input"`
	ToolResponse     json.RawMessage `json:"tool_response"`
	Cwd              string          `json:"cwd"`
}

func (s *Server) handleSessionsObservations(w http.ResponseWriter, r *http.Request) {
	var req observationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	sess, err := s.store.GetSessionByContentID(req.ContentSessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	_, err = s.sessions.Enqueue(sess.ID, req.ContentSessionID, &models.PendingMessage{
		Kind:         models.KindObservation,
		ToolName:     req.ToolName,
		ToolInput:    req.ToolInput,
		ToolResponse: req.ToolResponse,
		Cwd:          req.Cwd,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type summarizeRequest struct {
	ContentSessionID     string `json:"contentSessionId"`
	LastAssistantMessage string `json:"last_assistant_message"`
}

func (s *Server) handleSessionsSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	sess, err := s.store.GetSessionByContentID(req.ContentSessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	_, err = s.sessions.Enqueue(sess.ID, req.ContentSessionID, &models.PendingMessage{
		Kind:                 models.KindSummarize,
		LastAssistantMessage: req.LastAssistantMessage,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type sessionsCompleteRequest struct {
	ContentSessionID string `json:"contentSessionId"`
}

// gracefulSessionDeadline bounds how long /api/sessions/complete waits for
// the generator to exit before forcing removal, matching the 5-second
// per-session abort budget spec §5's shutdown timeouts name.
const gracefulSessionDeadline = 5 * time.Second

func (s *Server) handleSessionsComplete(w http.ResponseWriter, r *http.Request) {
	var req sessionsCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	sess, err := s.store.GetSessionByContentID(req.ContentSessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.sessions.DeleteSession(sess.ID, gracefulSessionDeadline); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	project, offset, limit := queryPaging(r)
	list, err := s.store.ListSessions(project, offset, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeBadRequest(w, "invalid session id")
		return
	}
	sess, err := s.store.GetSession(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// --- observations ---

func (s *Server) handleListObservations(w http.ResponseWriter, r *http.Request) {
	project, offset, limit := queryPaging(r)
	list, err := s.store.ListObservations(project, offset, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleBatchObservations(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs json.RawMessage `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	ids, err := coerceInt64Array(body.IDs)
	if err != nil {
		writeBadRequest(w, "invalid ids")
		return
	}
	list, err := s.store.BatchGetObservations(ids)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetObservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeBadRequest(w, "invalid observation id")
		return
	}
	obs, err := s.store.GetObservation(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

// --- summaries ---

func (s *Server) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	project, offset, limit := queryPaging(r)
	list, err := s.store.ListSummaries(project, offset, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleBatchSummaries(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs json.RawMessage `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	ids, err := coerceInt64Array(body.IDs)
	if err != nil {
		writeBadRequest(w, "invalid ids")
		return
	}
	list, err := s.store.BatchGetSummaries(ids)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeBadRequest(w, "invalid summary id")
		return
	}
	sum, err := s.store.GetSummary(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// --- prompts ---

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathInt64(r, "sessionId")
	if err != nil {
		writeBadRequest(w, "invalid session id")
		return
	}
	_, offset, limit := queryPaging(r)
	list, err := s.store.ListPrompts(sessionID, offset, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// --- projects ---

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// --- processing status ---

func (s *Server) handleProcessingStatus(w http.ResponseWriter, r *http.Request) {
	total, err := s.sessions.GetTotalActiveWork()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"totalPending":   total,
		"activeSessions": s.sessions.ActiveSessionIDs(),
	})
}

// --- pending queue ---

func (s *Server) handlePendingQueueView(w http.ResponseWriter, r *http.Request) {
	view, err := s.queue.GetQueueView()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	stuck, err := s.queue.GetStuckCount(60 * time.Second)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rows":  view,
		"stuck": stuck,
	})
}

// handlePendingQueueProcess resumes every session that still has queued
// work (after a restart, or after a batch of enqueues that arrived while no
// generator was running for their session).
func (s *Server) handlePendingQueueProcess(w http.ResponseWriter, r *http.Request) {
	ids, err := s.queue.GetSessionsWithPendingMessages()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	started := 0
	for _, id := range ids {
		injected, err := s.sessions.EnsureStartedByID(id)
		if err != nil {
			s.logger.Error("httpapi: failed to resume session", "session_db_id", id, "error", err)
			continue
		}
		if !injected {
			started++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"sessionsStarted": started})
}

func (s *Server) handlePendingQueueClearFailed(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.ClearFailed()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": n})
}

func (s *Server) handlePendingQueueClearAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.ClearAllIncomplete()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": n})
}

// --- logs ---

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logFilePath == "" {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	n, _ := strconv.Atoi(r.URL.Query().Get("lines"))
	if n <= 0 {
		n = 200
	}

	data, err := os.ReadFile(s.logFilePath)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	writeJSON(w, http.StatusOK, lines)
}

// --- SSE ---

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	id, ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// --- context inject ---

func (s *Server) handleContextInject(w http.ResponseWriter, r *http.Request) {
	projectsParam := r.URL.Query().Get("projects")

	var projects []string
	if projectsParam != "" {
		projects = strings.Split(projectsParam, ",")
	} else {
		var err error
		projects, err = s.store.ListProjects()
		if err != nil {
			writeStoreError(w, err)
			return
		}
	}

	maxObservations, excluded := s.runtimeConfig()

	var b strings.Builder
	for _, project := range projects {
		project = strings.TrimSpace(project)
		if project == "" || (projectsParam == "" && excluded[project]) {
			continue
		}
		renderProjectContext(&b, project, s.store, maxObservations)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

// renderProjectContext appends a project's most recent summary and up to
// maxObservations recent observations to b, in the plain structured-text
// shape hooks render directly into a prompt.
func renderProjectContext(b *strings.Builder, project string, st Store, maxObservations int) {
	summaries, err := st.ListSummaries(project, 0, 1)
	if err == nil && len(summaries) > 0 {
		sum := summaries[0]
		b.WriteString("## " + project + " — last session summary\n")
		if sum.Request != "" {
			b.WriteString("Request: " + sum.Request + "\n")
		}
		if sum.Completed != "" {
			b.WriteString("Completed: " + sum.Completed + "\n")
		}
		if sum.NextSteps != "" {
			b.WriteString("Next steps: " + sum.NextSteps + "\n")
		}
		b.WriteString("\n")
	}

	obs, err := st.ListObservations(project, 0, maxObservations)
	if err != nil || len(obs) == 0 {
		return
	}
	b.WriteString("## " + project + " — recent observations\n")
	for _, o := range obs {
		b.WriteString("- [" + string(o.Type) + "] " + o.Title)
		if o.Subtitle != "" {
			b.WriteString(": " + o.Subtitle)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}
