package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	t.Parallel()
	lib, err := Load("")
	if err != nil {
		t.Fatalf("Load with no path: %v", err)
	}
	for _, name := range requiredSections {
		if lib.Get(name) == "" {
			t.Errorf("default section %s is empty", name)
		}
	}
	if lib.Get("NO_SUCH_SECTION") != "" {
		t.Error("unknown section should be empty")
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	t.Parallel()
	lib, err := Load(filepath.Join(t.TempDir(), "prompts.txt"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if lib.Get(Synthesis) == "" {
		t.Error("expected embedded synthesis prompt")
	}
}

func TestLoadFileOverride(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "prompts.txt")
	content := strings.ReplaceAll(defaultsText,
		"You are a memory summarization agent.",
		"You are a CUSTOM summarization agent.")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	lib, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !strings.Contains(lib.Get(MemorySummary), "CUSTOM") {
		t.Error("file override not applied")
	}
}

func TestLoadMalformedFileErrors(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"no headers":       "just some text without any section markers",
		"missing required": "[--- PROMPT: NARRATOR ---]\nonly one section",
		"duplicate":        "[--- PROMPT: NARRATOR ---]\na\n[--- PROMPT: NARRATOR ---]\nb",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "prompts.txt")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestWithTemporalContext(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 28, 15, 4, 0, 0, time.UTC)
	got := WithTemporalContext("Today is {date} at {time} ({timezone}).", now)
	want := "Today is Friday, August 28, 2026 at 15:04 (UTC)."
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.txt")
	if err := os.WriteFile(path, []byte(defaultsText), 0o644); err != nil {
		t.Fatal(err)
	}

	lib, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := lib.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer lib.Close()

	updated := strings.ReplaceAll(defaultsText, "You are Chorus", "You are RELOADED Chorus")
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		if strings.Contains(lib.Get(Narrator), "RELOADED") {
			return
		}
		select {
		case <-deadline:
			t.Fatal("reload did not happen within deadline")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
