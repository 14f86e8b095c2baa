package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/toolchat/internal/config"
	"github.com/MrWong99/toolchat/internal/resilience"
	"github.com/MrWong99/toolchat/pkg/provider/llm"
)

// NewLLM creates the provider configured in lc. With fallbacks configured
// the result is a [resilience.Failover] that prefers the primary provider.
// An empty provider name yields a nil provider.
func NewLLM(reg *config.Registry, lc config.LLMConfig, logger *slog.Logger) (llm.Provider, error) {
	if lc.Name == "" {
		return nil, nil
	}
	primary, err := reg.CreateLLM(lc.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("llm %q: %w", lc.Name, err)
	}
	if len(lc.Fallbacks) == 0 {
		return primary, nil
	}
	fallbacks := make([]llm.Provider, 0, len(lc.Fallbacks))
	for i, entry := range lc.Fallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("llm fallback %d (%q): %w", i, entry.Name, err)
		}
		fallbacks = append(fallbacks, p)
	}
	return resilience.NewFailover(resilience.BreakerConfig{Logger: logger}, primary, fallbacks...), nil
}
