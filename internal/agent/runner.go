package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clmem/memoryd/internal/queue"
	"github.com/clmem/memoryd/pkg/models"
)

// systemPrompt instructs the provider on the wire format response.Parse
// expects: zero or more <observation> blocks plus an optional <summary>
// block, emitted as plain tagged text rather than a tool call.
const systemPrompt = `You are a background memory agent for a coding assistant. Given a tool event or a session summary request, reply only with tagged blocks, no other prose:

<observation>
  <type>discovery|decision|issue|pattern</type>
  <title>...</title>
  <subtitle>...</subtitle>
  <narrative>...</narrative>
  <facts><item>...</item></facts>
  <concepts>comma,separated,concepts</concepts>
  <files_read>comma,separated,paths</files_read>
  <files_modified>comma,separated,paths</files_modified>
</observation>

<summary>
  <request>...</request>
  <investigated>...</investigated>
  <learned>...</learned>
  <completed>...</completed>
  <next_steps>...</next_steps>
  <notes>...</notes>
</summary>

Omit a block entirely when it has nothing to report.`

// Config bounds an AgentRunner's conversation truncation.
type Config struct {
	// MaxHistoryMessages is the most recent turns kept, newest first before
	// the final reversal back to chronological order.
	MaxHistoryMessages int

	// MaxHistoryTokens is a chars÷4 estimated budget; truncation stops
	// adding older turns once either bound is hit.
	MaxHistoryTokens int

	MaxTokens int
}

// DefaultConfig returns the bounds used when none are configured.
func DefaultConfig() Config {
	return Config{MaxHistoryMessages: 40, MaxHistoryTokens: 50000, MaxTokens: 2048}
}

// Processor is the subset of response.Processor an AgentRunner hands
// completed replies to.
type Processor interface {
	Process(ctx context.Context, sess *models.ActiveSession, text string) error
}

// Runner owns one session's LLM conversation end to end: claim-next loop,
// prompt construction, provider call (through FailoverOrchestrator), and
// handoff to the response processor. One Runner is spawned per
// ActiveSession and exits when its queue drains; SessionManager respawns
// it on the next enqueue.
type Runner struct {
	sess      *models.ActiveSession
	ctx       context.Context
	provider  LLMProvider
	queue     *queue.Queue
	processor Processor
	model     string
	cfg       Config
	logger    *slog.Logger
}

// New constructs a Runner. ctx is the ActiveSession's own context, obtained
// from models.NewActiveSession, so sess.Abort() and session-end cancellation
// both stop the claim-next loop.
func New(sess *models.ActiveSession, ctx context.Context, provider LLMProvider, q *queue.Queue, processor Processor, model string, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{sess: sess, ctx: ctx, provider: provider, queue: q, processor: processor, model: model, cfg: cfg, logger: logger}
}

// Run drives the claim-next loop until the queue drains or the session is
// aborted. It always marks the ActiveSession done on exit so
// SessionManager's liveness check (ActiveSession.Alive) observes the exit.
func (r *Runner) Run() {
	defer r.sess.MarkDone()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		msg, err := r.queue.ClaimNext(r.sess.SessionID)
		if err != nil {
			r.logger.Error("agent: claim next failed", "session_db_id", r.sess.SessionID, "error", err)
			return
		}
		if msg == nil {
			return
		}

		r.sess.TrackInFlight(msg.ID, msg.CreatedAt)
		r.sess.CurrentProvider = r.provider.Name()

		prompt := r.buildPrompt(msg)
		r.sess.AppendHistory(models.RoleUser, prompt)

		reply, err := r.complete(r.ctx)
		if err != nil {
			// Transport/provider failure: the row stays in "processing" and
			// is recovered by the queue's self-heal on the next claim, so a
			// restart or a later run doesn't lose the event.
			r.logger.Error("agent: provider call failed", "session_db_id", r.sess.SessionID, "message_id", msg.ID, "error", err)
			continue
		}
		if strings.TrimSpace(reply) == "" {
			continue
		}

		if err := r.processor.Process(r.ctx, r.sess, reply); err != nil {
			r.logger.Error("agent: response processing failed", "session_db_id", r.sess.SessionID, "message_id", msg.ID, "error", err)
		}
	}
}

// complete sends the truncated conversation and collects the full streamed
// reply, or returns the first error seen on the chunk channel.
func (r *Runner) complete(ctx context.Context) (string, error) {
	req := &CompletionRequest{
		Model:     r.model,
		System:    systemPrompt,
		Messages:  r.truncatedHistory(),
		MaxTokens: r.cfg.MaxTokens,
	}

	chunks, err := r.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		out.WriteString(chunk.Text)
		if chunk.Done {
			r.sess.CumulativeInputTokens += chunk.InputTokens
			r.sess.CumulativeOutputTokens += chunk.OutputTokens
		}
	}
	return out.String(), nil
}

// truncatedHistory walks the session history newest to oldest, keeping
// turns until either MaxHistoryMessages or the chars÷4 token estimate of
// MaxHistoryTokens is reached, then reverses back to chronological order.
// It never splits a single turn, so a reply already in flight is never cut
// mid-response.
func (r *Runner) truncatedHistory() []CompletionMessage {
	full := r.sess.Snapshot()

	maxMessages := r.cfg.MaxHistoryMessages
	if maxMessages <= 0 {
		maxMessages = DefaultConfig().MaxHistoryMessages
	}
	maxTokens := r.cfg.MaxHistoryTokens
	if maxTokens <= 0 {
		maxTokens = DefaultConfig().MaxHistoryTokens
	}

	kept := make([]models.ConversationTurn, 0, len(full))
	tokens := 0
	for i := len(full) - 1; i >= 0 && len(kept) < maxMessages; i-- {
		turn := full[i]
		tokens += estimateTokens(turn.Content)
		if len(kept) > 0 && tokens > maxTokens {
			break
		}
		kept = append(kept, turn)
	}

	if len(kept) < len(full) {
		r.logger.Info("agent: truncated conversation history", "session_db_id", r.sess.SessionID, "kept", len(kept), "total", len(full))
	}

	out := make([]CompletionMessage, len(kept))
	for i, turn := range kept {
		out[len(kept)-1-i] = CompletionMessage{Role: string(turn.Role), Content: turn.Content}
	}
	return out
}

// estimateTokens approximates token count as chars÷4, the same rough
// heuristic used throughout the corpus when no tokenizer is wired in.
func estimateTokens(s string) int {
	return len(s) / 4
}

// buildPrompt renders the claimed queue row into the plain-text turn sent
// to the provider: an observation event (tool name, input, response) or a
// summarize request (the last assistant message so far).
func (r *Runner) buildPrompt(msg *models.PendingMessage) string {
	switch msg.Kind {
	case models.KindSummarize:
		return fmt.Sprintf("Summarize this session so far.\n\nLast assistant message:\n%s", msg.LastAssistantMessage)
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "Tool event at %s (cwd: %s)\nTool: %s\n", msg.CreatedAt.Format(time.RFC3339), msg.Cwd, msg.ToolName)
		if len(msg.ToolInput) > 0 {
			fmt.Fprintf(&b, "Input: %s\n", compactJSON(msg.ToolInput))
		}
		if len(msg.ToolResponse) > 0 {
			fmt.Fprintf(&b, "Result: %s\n", compactJSON(msg.ToolResponse))
		}
		return b.String()
	}
}

// compactJSON re-serializes raw JSON without surrounding whitespace,
// falling back to the original bytes when it doesn't parse cleanly.
func compactJSON(raw []byte) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
