package config

import (
	"os"
	"testing"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	os.Setenv("HTTP_ADDRESS", "")
	os.Setenv("OPENAI_MODEL_CHAT", "")
	os.Setenv("OPENAI_MODEL_EMBEDDING", "")
	cfg := Load()
	if cfg.HTTPAddress == "" {
		t.Fatalf("expected default http address")
	}
	if cfg.ChatModel == "" {
		t.Fatalf("expected default chat model")
	}
	if cfg.EmbeddingModel == "" {
		t.Fatalf("expected default embedding model")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	os.Setenv("OPENAI_MODEL_CHAT", "gpt-test")
	defer os.Unsetenv("OPENAI_MODEL_CHAT")
	cfg := Load()
	if cfg.ChatModel != "gpt-test" {
		t.Fatalf("expected env override, got %s", cfg.ChatModel)
	}
}
