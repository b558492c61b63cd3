// Package config holds the explicit configuration for the Chorus pipeline.
// There is exactly one Config value per process; it is constructed at startup
// and passed into the orchestrator. No package-level mutable state.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the top-level configuration passed into the orchestrator.
type Config struct {
	// DataDir is where Chorus keeps its config, logs, history database and
	// prompt overrides. Defaults to ~/.chorus.
	DataDir string `json:"data_dir"`

	Models    ModelsConfig    `json:"models"`
	Embedding EmbeddingConfig `json:"embedding"`
	Search    SearchConfig    `json:"search"`
	Extract   ExtractConfig   `json:"extract"`
	Memory    MemoryConfig    `json:"memory"`
	Timeouts  TimeoutsConfig  `json:"timeouts"`
	Logging   LoggingConfig   `json:"logging"`

	// PromptsPath optionally overrides the embedded system prompts with a
	// prompt sections file on disk. Empty means embedded defaults only.
	PromptsPath string `json:"prompts_path"`
}

// ModelsConfig names the chat model used by each pipeline agent.
type ModelsConfig struct {
	Endpoint      string `json:"endpoint"` // Ollama-compatible chat endpoint
	Intent        string `json:"intent"`
	Validator     string `json:"validator"`
	Refiner       string `json:"refiner"`
	Abstraction   string `json:"abstraction"`
	Synthesis     string `json:"synthesis"`
	MemorySummary string `json:"memory_summary"`
}

// EmbeddingConfig configures the embedding engine backend.
type EmbeddingConfig struct {
	Provider       string `json:"provider"` // "ollama" or "genai"
	OllamaEndpoint string `json:"ollama_endpoint"`
	OllamaModel    string `json:"ollama_model"`
	GenAIAPIKey    string `json:"genai_api_key"`
	GenAIModel     string `json:"genai_model"`
	TaskType       string `json:"task_type"`
}

// SearchConfig bounds the retrieval side of the pipeline.
type SearchConfig struct {
	MaxResultsPerTopic int `json:"max_results_per_topic"` // raw search hits fetched per topic
	MaxSourcesPerTopic int `json:"max_sources_per_topic"` // top-ranked URLs actually scraped
	FetchConcurrency   int `json:"fetch_concurrency"`     // bounded outbound extraction pool
}

// ExtractConfig holds the content extraction thresholds.
type ExtractConfig struct {
	MinUsableChars  int           `json:"min_usable_chars"`  // below this, extraction stage falls through
	MinQualityChars int           `json:"min_quality_chars"` // below this, the source is rejected
	MaxBodyChars    int           `json:"max_body_chars"`    // hard cap, truncation marker appended
	FetchTimeout    time.Duration `json:"-"`
	FetchTimeoutSec int           `json:"fetch_timeout_sec"`
	UserAgent       string        `json:"user_agent"`
}

// MemoryConfig controls contextual history retrieval.
type MemoryConfig struct {
	TopK  int `json:"top_k"`  // semantic matches from older memory; <=0 disables
	LastN int `json:"last_n"` // most recent entries, always included
}

// TimeoutsConfig holds the per-call and per-turn deadlines.
type TimeoutsConfig struct {
	LLMDefault        time.Duration `json:"-"`
	Validation        time.Duration `json:"-"`
	Watchdog          time.Duration `json:"-"`
	LLMDefaultSec     int           `json:"llm_default_sec"`
	ValidationSec     int           `json:"validation_sec"`
	WatchdogSec       int           `json:"watchdog_sec"`
	SynthesisAttempts int           `json:"synthesis_attempts"` // total attempts for the reasoning-block contract
}

// LoggingConfig mirrors internal/logging's expectations.
type LoggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories,omitempty"`
	Level      string          `json:"level"`
}

// DefaultConfig returns sensible defaults for a local Ollama setup.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir: filepath.Join(home, ".chorus"),
		Models: ModelsConfig{
			Endpoint:      "http://localhost:11434",
			Intent:        "qwen3:8b",
			Validator:     "qwen3:8b",
			Refiner:       "qwen3:14b",
			Abstraction:   "qwen3:8b",
			Synthesis:     "qwen3:14b",
			MemorySummary: "qwen2.5:7b-instruct",
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "nomic-embed-text",
			GenAIModel:     "gemini-embedding-001",
			TaskType:       "SEMANTIC_SIMILARITY",
		},
		Search: SearchConfig{
			MaxResultsPerTopic: 5,
			MaxSourcesPerTopic: 2,
			FetchConcurrency:   3,
		},
		Extract: ExtractConfig{
			MinUsableChars:  200,
			MinQualityChars: 300,
			MaxBodyChars:    12000,
			FetchTimeout:    10 * time.Second,
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		},
		Memory: MemoryConfig{
			TopK:  3,
			LastN: 2,
		},
		Timeouts: TimeoutsConfig{
			LLMDefault:        10 * time.Minute,
			Validation:        90 * time.Second,
			Watchdog:          30 * time.Minute,
			SynthesisAttempts: 3,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads a JSON config file and merges it over the defaults.
// A missing file is not an error: defaults apply.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			cfg.normalize()
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	cfg.normalize()
	return cfg, nil
}

// ApplyEnvOverrides lets CHORUS_* environment variables override file values.
// Only the knobs that make sense to vary per invocation are exposed.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CHORUS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("CHORUS_OLLAMA_ENDPOINT"); v != "" {
		c.Models.Endpoint = v
		c.Embedding.OllamaEndpoint = v
	}
	if v := os.Getenv("CHORUS_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("CHORUS_GENAI_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
	}
	if v := os.Getenv("CHORUS_SYNTHESIS_MODEL"); v != "" {
		c.Models.Synthesis = v
	}
	if v := os.Getenv("CHORUS_PROMPTS_PATH"); v != "" {
		c.PromptsPath = v
	}
	if v := os.Getenv("CHORUS_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = b
		}
	}
}

// normalize converts the *_sec JSON fields into durations and clamps
// nonsensical values back to defaults.
func (c *Config) normalize() {
	def := DefaultConfig()

	if c.Extract.FetchTimeoutSec > 0 {
		c.Extract.FetchTimeout = time.Duration(c.Extract.FetchTimeoutSec) * time.Second
	}
	if c.Extract.FetchTimeout <= 0 {
		c.Extract.FetchTimeout = def.Extract.FetchTimeout
	}
	if c.Timeouts.LLMDefaultSec > 0 {
		c.Timeouts.LLMDefault = time.Duration(c.Timeouts.LLMDefaultSec) * time.Second
	}
	if c.Timeouts.LLMDefault <= 0 {
		c.Timeouts.LLMDefault = def.Timeouts.LLMDefault
	}
	if c.Timeouts.ValidationSec > 0 {
		c.Timeouts.Validation = time.Duration(c.Timeouts.ValidationSec) * time.Second
	}
	if c.Timeouts.Validation <= 0 {
		c.Timeouts.Validation = def.Timeouts.Validation
	}
	if c.Timeouts.WatchdogSec > 0 {
		c.Timeouts.Watchdog = time.Duration(c.Timeouts.WatchdogSec) * time.Second
	}
	if c.Timeouts.Watchdog <= 0 {
		c.Timeouts.Watchdog = def.Timeouts.Watchdog
	}
	if c.Timeouts.SynthesisAttempts <= 0 {
		c.Timeouts.SynthesisAttempts = def.Timeouts.SynthesisAttempts
	}
	if c.Search.MaxResultsPerTopic <= 0 {
		c.Search.MaxResultsPerTopic = def.Search.MaxResultsPerTopic
	}
	if c.Search.MaxSourcesPerTopic <= 0 {
		c.Search.MaxSourcesPerTopic = def.Search.MaxSourcesPerTopic
	}
	if c.Search.FetchConcurrency <= 0 {
		c.Search.FetchConcurrency = def.Search.FetchConcurrency
	}
	if c.Extract.MinUsableChars <= 0 {
		c.Extract.MinUsableChars = def.Extract.MinUsableChars
	}
	if c.Extract.MinQualityChars <= 0 {
		c.Extract.MinQualityChars = def.Extract.MinQualityChars
	}
	if c.Extract.MaxBodyChars <= 0 {
		c.Extract.MaxBodyChars = def.Extract.MaxBodyChars
	}
	if c.Extract.UserAgent == "" {
		c.Extract.UserAgent = def.Extract.UserAgent
	}
	if c.Memory.LastN < 0 {
		c.Memory.LastN = 0
	}
}

// ConfigPath returns the canonical config file path inside the data dir.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.DataDir, "config.json")
}

// HistoryPath returns the conversation database path inside the data dir.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.db")
}
