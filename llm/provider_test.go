package llm

import (
	"context"
	"fmt"
	"reflect"
	"testing"
)

func TestNewProviderSDKBackedProviders(t *testing.T) {
	tests := []struct {
		provider string
		wantType string
	}{
		{"openai", "*llm.openAISDKProvider"},
		{"anthropic", "*llm.anthropicProvider"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, Model: "test-model"})
			if err != nil {
				t.Fatalf("NewProvider(%q) returned error: %v", tt.provider, err)
			}
			gotType := fmt.Sprintf("%T", p)
			if gotType != tt.wantType {
				t.Errorf("NewProvider(%q) type = %s, want %s", tt.provider, gotType, tt.wantType)
			}
			if _, ok := p.(Provider); !ok {
				t.Errorf("%q provider does not satisfy Provider", tt.provider)
			}
		})
	}
}

func TestNewProviderOpenRouter(t *testing.T) {
	p, err := NewProvider(Config{Provider: "openrouter", Model: "test-model"})
	if err != nil {
		t.Fatalf("NewProvider(openrouter) returned error: %v", err)
	}
	gotType := fmt.Sprintf("%T", p)
	if want := "*llm.openRouterProvider"; gotType != want {
		t.Errorf("NewProvider(openrouter) type = %s, want %s", gotType, want)
	}
	if _, ok := p.(VisionProvider); !ok {
		t.Error("openrouter provider does not satisfy VisionProvider")
	}
}

func TestAnthropicEmbedIsUnsupported(t *testing.T) {
	p, err := NewProvider(Config{Provider: "anthropic", Model: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if _, err := p.Embed(context.Background(), []string{"hello"}); err == nil {
		t.Fatal("expected anthropic Embed to return an error")
	}
}

func TestNewProviderUnknown(t *testing.T) {
	cfg := Config{
		Provider: "doesnotexist",
		Model:    "test-model",
	}
	_, err := NewProvider(cfg)
	if err == nil {
		t.Fatal("expected error for unknown provider, got nil")
	}
	want := "unknown llm provider: doesnotexist"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestNewProviderEmpty(t *testing.T) {
	cfg := Config{
		Provider: "",
		Model:    "test-model",
	}
	_, err := NewProvider(cfg)
	if err == nil {
		t.Fatal("expected error for empty provider, got nil")
	}
	want := "llm provider not specified"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

// TestOpenRouterDefaultBaseURL verifies that when BaseURL is empty in the
// config, openrouter sets the correct default.
func TestOpenRouterDefaultBaseURL(t *testing.T) {
	p, err := NewProvider(Config{Provider: "openrouter", Model: "test-model"})
	if err != nil {
		t.Fatalf("NewProvider(openrouter): %v", err)
	}

	v := reflect.ValueOf(p).Elem()
	base := v.FieldByName("base")
	cfgField := base.FieldByName("cfg")
	gotURL := cfgField.FieldByName("BaseURL").String()

	if want := "https://openrouter.ai/api"; gotURL != want {
		t.Errorf("default BaseURL for openrouter = %q, want %q", gotURL, want)
	}
}

// TestOpenRouterExplicitBaseURLPreserved verifies that a user-supplied
// BaseURL is not overwritten by the default.
func TestOpenRouterExplicitBaseURLPreserved(t *testing.T) {
	customURL := "http://my-proxy:9999"

	p, err := NewProvider(Config{
		Provider: "openrouter",
		Model:    "test-model",
		BaseURL:  customURL,
	})
	if err != nil {
		t.Fatalf("NewProvider(openrouter): %v", err)
	}

	v := reflect.ValueOf(p).Elem()
	base := v.FieldByName("base")
	cfgField := base.FieldByName("cfg")
	gotURL := cfgField.FieldByName("BaseURL").String()

	if gotURL != customURL {
		t.Errorf("BaseURL = %q, want %q", gotURL, customURL)
	}
}

// TestModelPassedThrough verifies the model from Config is stored
// inside the provider.
func TestModelPassedThrough(t *testing.T) {
	cfg := Config{
		Provider: "openrouter",
		Model:    "meta-llama/llama-3.1-70b-instruct",
	}
	p, err := NewProvider(cfg)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	v := reflect.ValueOf(p).Elem()
	base := v.FieldByName("base")
	cfgField := base.FieldByName("cfg")
	gotModel := cfgField.FieldByName("Model").String()

	if gotModel != cfg.Model {
		t.Errorf("model = %q, want %q", gotModel, cfg.Model)
	}
}

// TestAPIKeyPassedThrough verifies the API key from Config is stored
// inside the provider.
func TestAPIKeyPassedThrough(t *testing.T) {
	cfg := Config{
		Provider: "openrouter",
		Model:    "test",
		APIKey:   "sk-test-key-123",
	}
	p, err := NewProvider(cfg)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	v := reflect.ValueOf(p).Elem()
	base := v.FieldByName("base")
	cfgField := base.FieldByName("cfg")
	gotKey := cfgField.FieldByName("APIKey").String()

	if gotKey != "sk-test-key-123" {
		t.Errorf("api key = %q, want %q", gotKey, "sk-test-key-123")
	}
}
