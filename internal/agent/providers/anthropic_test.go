package providers

import (
	"errors"
	"testing"
	"time"

	"github.com/clmem/memoryd/internal/agent"
)

func TestNewAnthropicProviderRequiresAPIKey(t *testing.T) {
	_, err := NewAnthropicProvider(AnthropicConfig{})
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNewAnthropicProviderDefaults(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.maxRetries != 3 {
		t.Errorf("maxRetries = %d, want 3", p.maxRetries)
	}
	if p.retryDelay != time.Second {
		t.Errorf("retryDelay = %v, want 1s", p.retryDelay)
	}
	if p.defaultModel != "claude-sonnet-4-20250514" {
		t.Errorf("defaultModel = %q", p.defaultModel)
	}
}

func TestAnthropicProviderIdentity(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("Name() = %q", p.Name())
	}
	if p.SupportsTools() {
		t.Error("SupportsTools() should be false")
	}
	if len(p.Models()) == 0 {
		t.Error("Models() should not be empty")
	}
}

func TestAnthropicGetModelAndMaxTokens(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test", DefaultModel: "claude-opus-4-20250514"})
	if err != nil {
		t.Fatal(err)
	}
	if got := p.getModel(""); got != "claude-opus-4-20250514" {
		t.Errorf("getModel(\"\") = %q", got)
	}
	if got := p.getModel("custom"); got != "custom" {
		t.Errorf("getModel(custom) = %q", got)
	}
	if got := p.getMaxTokens(0); got != 4096 {
		t.Errorf("getMaxTokens(0) = %d, want 4096", got)
	}
	if got := p.getMaxTokens(512); got != 512 {
		t.Errorf("getMaxTokens(512) = %d, want 512", got)
	}
}

func TestAnthropicConvertMessagesSkipsSystem(t *testing.T) {
	p, _ := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	out := p.convertMessages([]agent.CompletionMessage{
		{Role: "system", Content: "ignored"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	})
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
}

func TestAnthropicIsRetryableError(t *testing.T) {
	p, _ := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	if !p.isRetryableError(errors.New("rate_limit exceeded")) {
		t.Error("rate limit should be retryable")
	}
	if p.isRetryableError(errors.New("invalid api key")) {
		t.Error("auth errors should not be retryable")
	}
}

func TestAnthropicWrapErrorNilAndIdempotent(t *testing.T) {
	p, _ := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	if p.wrapError(nil, "m") != nil {
		t.Error("wrapError(nil) should return nil")
	}
	wrapped := p.wrapError(errors.New("boom"), "claude-sonnet-4-20250514")
	if !IsProviderError(wrapped) {
		t.Error("wrapError should produce a ProviderError")
	}
	if p.wrapError(wrapped, "m") != wrapped {
		t.Error("wrapError should pass through an already-wrapped error")
	}
}
