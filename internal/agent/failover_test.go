package agent

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeProvider struct {
	name    string
	err     error
	text    string
	calls   int
	models  []Model
	support bool
}

func (f *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan *CompletionChunk, 2)
	ch <- &CompletionChunk{Text: f.text}
	ch <- &CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) Name() string        { return f.name }
func (f *fakeProvider) Models() []Model     { return f.models }
func (f *fakeProvider) SupportsTools() bool { return f.support }

func TestFailoverOrchestratorSucceedsOnPrimary(t *testing.T) {
	primary := &fakeProvider{name: "primary", text: "ok"}
	o := NewFailoverOrchestrator(primary, nil)

	ch, err := o.Complete(context.Background(), &CompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got string
	for c := range ch {
		got += c.Text
	}
	if got != "ok" {
		t.Errorf("got %q, want ok", got)
	}
	if primary.calls != 1 {
		t.Errorf("primary called %d times, want 1", primary.calls)
	}
}

func TestFailoverOrchestratorFallsOverOnAuthError(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("401 unauthorized")}
	secondary := &fakeProvider{name: "secondary", text: "fallback"}

	cfg := DefaultFailoverConfig()
	o := NewFailoverOrchestrator(primary, cfg)
	o.AddProvider(secondary)

	ch, err := o.Complete(context.Background(), &CompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got string
	for c := range ch {
		got += c.Text
	}
	if got != "fallback" {
		t.Errorf("got %q, want fallback", got)
	}
}

func TestFailoverOrchestratorDoesNotFailoverOnInvalidRequest(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("400 bad request")}
	secondary := &fakeProvider{name: "secondary", text: "fallback"}

	o := NewFailoverOrchestrator(primary, nil)
	o.AddProvider(secondary)

	_, err := o.Complete(context.Background(), &CompletionRequest{Model: "m"})
	if err == nil {
		t.Fatal("expected error for invalid request")
	}
	if secondary.calls != 0 {
		t.Errorf("secondary should not have been tried, called %d times", secondary.calls)
	}
}

func TestFailoverOrchestratorCircuitBreakerOpensAfterThreshold(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("500 internal server error")}
	secondary := &fakeProvider{name: "secondary", text: "fallback"}

	cfg := DefaultFailoverConfig()
	cfg.MaxRetries = 0
	cfg.CircuitBreakerThreshold = 2
	cfg.CircuitBreakerTimeout = time.Hour

	o := NewFailoverOrchestrator(primary, cfg)
	o.AddProvider(secondary)

	for i := 0; i < 2; i++ {
		if _, err := o.Complete(context.Background(), &CompletionRequest{Model: "m"}); err != nil {
			t.Fatalf("unexpected error on attempt %d: %v", i, err)
		}
	}

	states := o.ProviderStates()
	var primaryOpen bool
	for _, s := range states {
		if s.Name == "primary" && s.CircuitOpen {
			primaryOpen = true
		}
	}
	if !primaryOpen {
		t.Error("expected primary circuit breaker to be open after threshold failures")
	}

	o.ResetCircuitBreaker("primary")
	for _, s := range o.ProviderStates() {
		if s.Name == "primary" && s.CircuitOpen {
			t.Error("expected primary circuit breaker to be reset")
		}
	}
}

func TestFailoverOrchestratorModelsDedup(t *testing.T) {
	primary := &fakeProvider{name: "primary", models: []Model{{ID: "a"}, {ID: "b"}}}
	secondary := &fakeProvider{name: "secondary", models: []Model{{ID: "b"}, {ID: "c"}}}

	o := NewFailoverOrchestrator(primary, nil)
	o.AddProvider(secondary)

	models := o.Models()
	if len(models) != 3 {
		t.Errorf("expected 3 deduped models, got %d", len(models))
	}
}
