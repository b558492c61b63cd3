// Package prompts manages the named system prompt sections used by the
// pipeline agents. Defaults are embedded; a prompt file on disk overrides
// them and is hot-reloaded on change.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"chorus/internal/logging"

	"github.com/fsnotify/fsnotify"
)

//go:embed defaults.txt
var defaultsText string

// Section names recognized by the loader.
const (
	Narrator      = "NARRATOR"
	SearchIntent  = "SEARCH_INTENT"
	Validator     = "VALIDATOR"
	Refiner       = "REFINER"
	Abstraction   = "ABSTRACTION"
	Synthesis     = "SYNTHESIS"
	MemorySummary = "MEMORY_SUMMARY"
)

var requiredSections = []string{
	Narrator, SearchIntent, Validator, Refiner, Abstraction, Synthesis, MemorySummary,
}

var sectionHeaderPattern = regexp.MustCompile(`(?m)^\[--- PROMPT: ([A-Z_]+) ---\]\s*$`)

// Library holds the active prompt sections. Safe for concurrent readers while
// a reload is in flight.
type Library struct {
	mu       sync.RWMutex
	sections map[string]string
	path     string
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// Load builds a library from the prompt file at path. An empty path or a
// missing file falls back to the embedded defaults; a present but malformed
// file is an error.
func Load(path string) (*Library, error) {
	lib := &Library{path: path}

	defaults, err := parseSections(defaultsText)
	if err != nil {
		return nil, fmt.Errorf("embedded prompt defaults are malformed: %w", err)
	}
	lib.sections = defaults

	if path == "" {
		return lib, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logging.Prompts("Prompt file %s not found, using embedded defaults", path)
		return lib, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file: %w", err)
	}

	sections, err := parseSections(string(data))
	if err != nil {
		return nil, fmt.Errorf("prompt file %s: %w", path, err)
	}
	lib.sections = sections
	logging.Prompts("Loaded %d prompt sections from %s", len(sections), path)
	return lib, nil
}

// Get returns the named section. Unknown names return an empty string.
func (l *Library) Get(name string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sections[name]
}

// Watch reloads the library whenever the prompt file changes. Reload failures
// are logged and the previous sections stay active. No-op without a path.
func (l *Library) Watch() error {
	if l.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create prompt watcher: %w", err)
	}
	if err := watcher.Add(l.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch prompt file: %w", err)
	}

	l.watcher = watcher
	l.done = make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := l.reload(); err != nil {
					logging.Get(logging.CategoryPrompts).Warn("Prompt reload failed, keeping previous sections: %v", err)
				} else {
					logging.Prompts("Reloaded prompt sections from %s", l.path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Get(logging.CategoryPrompts).Warn("Prompt watcher error: %v", err)
			case <-l.done:
				return
			}
		}
	}()

	return nil
}

// Close stops the file watcher if one is running.
func (l *Library) Close() error {
	if l.watcher == nil {
		return nil
	}
	close(l.done)
	return l.watcher.Close()
}

func (l *Library) reload() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}
	sections, err := parseSections(string(data))
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.sections = sections
	l.mu.Unlock()
	return nil
}

// parseSections splits a prompt file into named sections and checks that every
// required section is present and non-empty.
func parseSections(text string) (map[string]string, error) {
	headers := sectionHeaderPattern.FindAllStringSubmatchIndex(text, -1)
	if len(headers) == 0 {
		return nil, fmt.Errorf("no [--- PROMPT: NAME ---] headers found")
	}

	sections := make(map[string]string, len(headers))
	for i, h := range headers {
		name := text[h[2]:h[3]]
		start := h[1]
		end := len(text)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		body := strings.TrimSpace(text[start:end])
		if _, exists := sections[name]; exists {
			return nil, fmt.Errorf("duplicate prompt section %s", name)
		}
		sections[name] = body
	}

	for _, name := range requiredSections {
		if strings.TrimSpace(sections[name]) == "" {
			return nil, fmt.Errorf("missing required prompt section %s", name)
		}
	}
	return sections, nil
}

// WithTemporalContext substitutes the {date}, {time} and {timezone}
// placeholders so time-sensitive agents know when now is.
func WithTemporalContext(prompt string, now time.Time) string {
	zone, _ := now.Zone()
	return strings.NewReplacer(
		"{date}", now.Format("Monday, January 2, 2006"),
		"{time}", now.Format("15:04"),
		"{timezone}", zone,
	).Replace(prompt)
}
