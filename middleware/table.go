package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
)

// Table registers handlers on a ServeMux behind the guard their pattern
// declares. Patterns missing from the table require authentication only.
type Table struct {
	engine Engine
	reqs   Requirements
	opts   []Option
	logger *slog.Logger

	mu   sync.Mutex
	used map[string]bool
}

// NewTable validates reqs and returns a table bound to engine.
func NewTable(engine Engine, reqs Requirements, opts ...Option) (*Table, error) {
	if err := reqs.Validate(); err != nil {
		return nil, fmt.Errorf("requirements: %w", err)
	}
	return &Table{
		engine: engine,
		reqs:   reqs,
		opts:   opts,
		logger: buildOptions(opts).logger,
		used:   make(map[string]bool),
	}, nil
}

// Requirement returns the requirement for pattern.
func (t *Table) Requirement(pattern string) AuthRequirement {
	return t.reqs[pattern]
}

// Handle registers h for pattern behind its guard.
func (t *Table) Handle(mux *http.ServeMux, pattern string, h http.Handler) {
	req, ok := t.reqs[pattern]
	if !ok {
		t.logger.Debug("no requirement declared; authentication only", "pattern", pattern)
	}
	t.mu.Lock()
	t.used[pattern] = true
	t.mu.Unlock()
	mux.Handle(pattern, Guard(t.engine, req, t.opts...)(h))
}

func (t *Table) HandleFunc(mux *http.ServeMux, pattern string, fn func(http.ResponseWriter, *http.Request)) {
	t.Handle(mux, pattern, http.HandlerFunc(fn))
}

// Unused lists declared patterns never registered, usually a typo in the table.
func (t *Table) Unused() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for p := range t.reqs {
		if !t.used[p] {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
