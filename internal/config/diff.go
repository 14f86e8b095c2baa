package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied to a running process are tracked; the
// ops listen address requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ToolsConnectionChanged is true when the tool server must be
	// reconnected.
	ToolsConnectionChanged bool

	// ToolsBehaviourChanged is true when only the grammar, concurrency or
	// auto execution changed.
	ToolsBehaviourChanged bool

	// LLMProviderChanged is true when a new provider must be created.
	LLMProviderChanged bool

	// LLMParamsChanged is true when the prompt, sampling or tool rounds
	// changed.
	LLMParamsChanged bool

	// PersistenceChanged is true when the store must switch backends.
	PersistenceChanged bool
}

// Any reports whether anything in d changed.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.ToolsConnectionChanged || d.ToolsBehaviourChanged ||
		d.LLMProviderChanged || d.LLMParamsChanged || d.PersistenceChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Tools
	if !old.Tools.ClientConfig().Equal(new.Tools.ClientConfig()) ||
		old.Tools.WorkspaceDir != new.Tools.WorkspaceDir {
		d.ToolsConnectionChanged = true
	}
	if old.Tools.Grammar != new.Tools.Grammar ||
		old.Tools.MaxConcurrency != new.Tools.MaxConcurrency ||
		old.Tools.ShouldAutoExecute() != new.Tools.ShouldAutoExecute() {
		d.ToolsBehaviourChanged = true
	}

	// LLM
	if !reflect.DeepEqual(old.LLM.ProviderEntry, new.LLM.ProviderEntry) ||
		!reflect.DeepEqual(old.LLM.Fallbacks, new.LLM.Fallbacks) {
		d.LLMProviderChanged = true
	}
	if old.LLM.SystemPrompt != new.LLM.SystemPrompt ||
		old.LLM.Temperature != new.LLM.Temperature ||
		old.LLM.MaxTokens != new.LLM.MaxTokens ||
		old.LLM.ToolRounds != new.LLM.ToolRounds {
		d.LLMParamsChanged = true
	}

	// Persistence
	if old.Persistence != new.Persistence {
		d.PersistenceChanged = true
	}

	return d
}
