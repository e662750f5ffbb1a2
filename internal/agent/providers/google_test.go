package providers

import (
	"errors"
	"testing"

	"github.com/clmem/memoryd/internal/agent"
)

func TestNewGoogleProviderRequiresAPIKey(t *testing.T) {
	_, err := NewGoogleProvider(GoogleConfig{})
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestGoogleProviderIdentity(t *testing.T) {
	p, err := NewGoogleProvider(GoogleConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "google" {
		t.Errorf("Name() = %q", p.Name())
	}
	if p.SupportsTools() {
		t.Error("SupportsTools() should be false")
	}
	if len(p.Models()) == 0 {
		t.Error("Models() should not be empty")
	}
}

func TestGoogleGetModel(t *testing.T) {
	p, _ := NewGoogleProvider(GoogleConfig{APIKey: "test-key", DefaultModel: "gemini-1.5-pro"})
	if got := p.getModel(""); got != "gemini-1.5-pro" {
		t.Errorf("getModel(\"\") = %q", got)
	}
	if got := p.getModel("custom"); got != "custom" {
		t.Errorf("getModel(custom) = %q", got)
	}
}

func TestGoogleConvertMessagesSkipsSystemAndEmpty(t *testing.T) {
	p, _ := NewGoogleProvider(GoogleConfig{APIKey: "test-key"})
	out := p.convertMessages([]agent.CompletionMessage{
		{Role: "system", Content: "ignored"},
		{Role: "user", Content: ""},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	})
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
}

func TestGoogleBuildConfig(t *testing.T) {
	p, _ := NewGoogleProvider(GoogleConfig{APIKey: "test-key"})
	config := p.buildConfig(&agent.CompletionRequest{System: "be terse", MaxTokens: 512})
	if config.SystemInstruction == nil {
		t.Fatal("expected system instruction to be set")
	}
	if config.MaxOutputTokens != 512 {
		t.Errorf("MaxOutputTokens = %d, want 512", config.MaxOutputTokens)
	}
}

func TestGoogleIsRetryableError(t *testing.T) {
	p, _ := NewGoogleProvider(GoogleConfig{APIKey: "test-key"})
	if !p.isRetryableError(errors.New("resource exhausted")) {
		t.Error("resource exhausted should be retryable")
	}
	if p.isRetryableError(errors.New("permission denied")) {
		t.Error("permission denied should not be retryable")
	}
}
