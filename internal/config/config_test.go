package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if cfg.Models.Synthesis != "qwen3:14b" {
		t.Errorf("synthesis model = %q", cfg.Models.Synthesis)
	}
	if cfg.Memory.TopK != 3 || cfg.Memory.LastN != 2 {
		t.Errorf("memory defaults = %d/%d", cfg.Memory.TopK, cfg.Memory.LastN)
	}
	if cfg.Timeouts.Watchdog != 30*time.Minute {
		t.Errorf("watchdog = %v", cfg.Timeouts.Watchdog)
	}
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"models": {"synthesis": "llama3:70b"},
		"search": {"max_sources_per_topic": 4},
		"timeouts": {"watchdog_sec": 600}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Models.Synthesis != "llama3:70b" {
		t.Errorf("synthesis model not overridden: %q", cfg.Models.Synthesis)
	}
	if cfg.Models.Intent != "qwen3:8b" {
		t.Errorf("untouched field lost its default: %q", cfg.Models.Intent)
	}
	if cfg.Search.MaxSourcesPerTopic != 4 {
		t.Errorf("max sources = %d", cfg.Search.MaxSourcesPerTopic)
	}
	if cfg.Timeouts.Watchdog != 10*time.Minute {
		t.Errorf("watchdog_sec not normalized: %v", cfg.Timeouts.Watchdog)
	}
}

func TestLoadMalformedFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CHORUS_OLLAMA_ENDPOINT", "http://gpu-box:11434")
	t.Setenv("CHORUS_SYNTHESIS_MODEL", "qwen3:32b")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Models.Endpoint != "http://gpu-box:11434" {
		t.Errorf("endpoint = %q", cfg.Models.Endpoint)
	}
	if cfg.Embedding.OllamaEndpoint != "http://gpu-box:11434" {
		t.Errorf("embedding endpoint = %q", cfg.Embedding.OllamaEndpoint)
	}
	if cfg.Models.Synthesis != "qwen3:32b" {
		t.Errorf("synthesis = %q", cfg.Models.Synthesis)
	}
}

func TestNormalizeClampsNonsense(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Search.FetchConcurrency = -1
	cfg.Extract.MaxBodyChars = 0
	cfg.Timeouts.Watchdog = 0
	cfg.normalize()

	def := DefaultConfig()
	if cfg.Search.FetchConcurrency != def.Search.FetchConcurrency {
		t.Errorf("concurrency = %d", cfg.Search.FetchConcurrency)
	}
	if cfg.Extract.MaxBodyChars != def.Extract.MaxBodyChars {
		t.Errorf("max body = %d", cfg.Extract.MaxBodyChars)
	}
	if cfg.Timeouts.Watchdog != def.Timeouts.Watchdog {
		t.Errorf("watchdog = %v", cfg.Timeouts.Watchdog)
	}
}
