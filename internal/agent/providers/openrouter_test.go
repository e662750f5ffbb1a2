package providers

import (
	"context"
	"testing"

	"github.com/clmem/memoryd/internal/agent"
)

func TestNewOpenRouterProviderRequiresAPIKey(t *testing.T) {
	_, err := NewOpenRouterProvider(OpenRouterConfig{})
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestOpenRouterProviderIdentity(t *testing.T) {
	p, err := NewOpenRouterProvider(OpenRouterConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "openrouter" {
		t.Errorf("Name() = %q", p.Name())
	}
	if p.SupportsTools() {
		t.Error("SupportsTools() should be false")
	}
	if len(p.Models()) == 0 {
		t.Error("Models() should not be empty")
	}
}

func TestOpenRouterConvertMessagesPrependsSystem(t *testing.T) {
	p, _ := NewOpenRouterProvider(OpenRouterConfig{APIKey: "test-key"})
	out := p.convertMessages([]agent.CompletionMessage{{Role: "user", Content: "hi"}}, "be terse")
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if out[0].Role != "system" || out[0].Content != "be terse" {
		t.Errorf("system message not prepended correctly: %+v", out[0])
	}
}

func TestOpenRouterCompleteRejectsNilClient(t *testing.T) {
	p := &OpenRouterProvider{}
	_, err := p.Complete(context.Background(), &agent.CompletionRequest{Model: "openai/gpt-4o"})
	if err == nil {
		t.Fatal("expected error for uninitialized client")
	}
}
