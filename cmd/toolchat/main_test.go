package main

import (
	"slices"
	"testing"

	"github.com/MrWong99/toolchat/internal/config"
	"github.com/MrWong99/toolchat/pkg/provider/llm/anyllm"
	"github.com/MrWong99/toolchat/pkg/provider/llm/openai"
)

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	names := reg.LLMNames()
	for _, want := range append(slices.Clone(anyllm.Backends), openai.Name) {
		if !slices.Contains(names, want) {
			t.Errorf("llm provider %q not registered (have %v)", want, names)
		}
	}

	local, err := reg.CreateLLM(config.ProviderEntry{Name: "ollama", Model: "qwen2.5:7b", BaseURL: "http://127.0.0.1:11434"})
	if err != nil || local.Name() != "ollama" {
		t.Errorf("ollama = %v, %v", local, err)
	}
	compat, err := reg.CreateLLM(config.ProviderEntry{
		Name:    openai.Name,
		Model:   "local",
		BaseURL: "http://127.0.0.1:8080/v1/",
		Options: map[string]any{"context_window": 32768, "max_output_tokens": 1024},
	})
	if err != nil {
		t.Fatalf("openai-compatible: %v", err)
	}
	if caps := compat.Capabilities(); caps.ContextWindow != 32768 || caps.MaxOutputTokens != 1024 {
		t.Errorf("capabilities = %+v", caps)
	}
}
