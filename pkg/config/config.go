package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

// ServerConfig describes how to launch one tool server subprocess.
type ServerConfig struct {
	// Command is the executable that speaks the tool-server protocol on stdio.
	Command string `json:"command"`
	// Args are passed verbatim to the command.
	Args []string `json:"args,omitempty"`
	// Env holds extra environment variables for the subprocess.
	Env map[string]string `json:"env,omitempty"`
	// Credentials lists files that must already exist before the server is
	// launched (e.g., OAuth token files). Launch fails with a clear error
	// instead of letting the server fall back to an interactive auth flow.
	Credentials []string `json:"credentials,omitempty"`
	// UserScoped marks identity-sensitive servers (e.g., a calendar provider).
	// Such servers get one subprocess per user and are never shared.
	UserScoped bool `json:"user_scoped,omitempty"`
}

// Config defines the global application configuration structure.
// This structure maps directly to the config.json file and holds
// business-level settings like tool servers and LLM provider choices.
type Config struct {
	// Servers maps a server name (e.g., "gmail", "google_calendar") to its
	// launch configuration.
	Servers map[string]ServerConfig `json:"servers"`
	// PlanTool names the tool whose successful invocation carries the updated
	// project plan in its "plan_content" argument. Defaults to
	// "update_execution_plan".
	PlanTool string `json:"plan_tool,omitempty"`
	// LLM holds the configuration for the LLM provider groups in raw JSON.
	LLM jsoniter.RawMessage `json:"llm"`
	// Channels contains a map of channel identifiers (e.g., "web", "telegram")
	// to their specific configuration payloads in raw JSON format.
	Channels map[string]jsoniter.RawMessage `json:"channels"`
	// SystemPrompt is the global persona/instruction string embedded in the
	// first turn of every conversation.
	SystemPrompt string `json:"system_prompt"`
}

// Validate ensures the configuration structure contains all mandatory fields.
// It acts as a primary guard before the system proceeds to initialization.
func (c *Config) Validate() error {
	if len(c.LLM) == 0 {
		return fmt.Errorf("mandatory 'llm' configuration is missing or empty")
	}
	for name, srv := range c.Servers {
		if srv.Command == "" {
			return fmt.Errorf("server %q is missing a launch command", name)
		}
	}
	if c.PlanTool == "" {
		c.PlanTool = "update_execution_plan"
	}
	return nil
}

// SystemConfig defines engine-level technical parameters.
// These settings are usually stored in system.json and control the
// performance, reliability, and technical behavior of the orchestrator.
type SystemConfig struct {
	// MaxToolRounds is the hard ceiling on tool-dispatch rounds within a
	// single chat invocation. Reaching it is recorded, not raised.
	MaxToolRounds int `json:"max_tool_rounds"`
	// ConnectTimeoutMs bounds the tool-server launch plus handshake. A server
	// that cannot become ready within this window fails session creation.
	ConnectTimeoutMs int `json:"connect_timeout_ms"`
	// ModelTimeoutMs is the hard cutoff time (in milliseconds) for a single
	// chat invocation including all tool rounds. Zero disables the cutoff.
	ModelTimeoutMs int `json:"model_timeout_ms"`
	// MaxRetries is the number of times the system will attempt to
	// recover from a transient LLM or network error before giving up.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the duration to wait (in milliseconds) between
	// consecutive retry attempts.
	RetryDelayMs int `json:"retry_delay_ms"`
	// Temperature is the sampling temperature forwarded to every provider.
	Temperature float64 `json:"temperature"`
	// HistoryDir is the directory where conversation histories are persisted
	// as JSON. Empty disables persistence (histories stay in memory).
	HistoryDir string `json:"history_dir"`
	// OllamaDefaultURL is the fallback endpoint used when connecting
	// to a local Ollama instance if no specific URL is provided.
	OllamaDefaultURL string `json:"ollama_default_url"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
	// EnableTools globally toggles tool calling. If false, the model is never
	// offered any tool declarations and no tool servers are launched.
	EnableTools bool `json:"enable_tools"`
}

// DefaultSystemConfig returns a SystemConfig pointer initialized with hardcoded
// safe default values. This is used as a fallback when the system.json file
// is missing or corrupt, ensuring the engine can always start.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxToolRounds:    10,
		ConnectTimeoutMs: 30000,
		ModelTimeoutMs:   0,
		MaxRetries:       3,
		RetryDelayMs:     500,
		Temperature:      0.7,
		OllamaDefaultURL: "http://localhost:11434",
		LogLevel:         "info",
		EnableTools:      true,
	}
}

// Load reads and parses the JSON configuration files from the current working
// directory. It first attempts to load 'config.json' (app config). If this
// file is missing, it returns an error. Then it calls LoadSystemConfig to load
// 'system.json'. Returns pointers to the loaded Config and SystemConfig, or an
// error if the mandatory app config fails.
func Load() (*Config, *SystemConfig, error) {
	appPath := "config.json"
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	sysCfg := LoadSystemConfig("system.json")

	return &cfg, sysCfg, nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg // File not found, use defaults
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(file, cfg); err != nil {
		return cfg // Parse failed, use defaults
	}

	return cfg
}
