// Package steps implements the Step Registry & Matcher (C4): compiling step
// patterns contributed by drivers into regular expressions and resolving
// free-text step lines to a (driver, action, args) triple.
package steps

import (
	"regexp"
	"sort"
	"sync"

	"github.com/stepdriver/host/internal/hosterr"
)

// Definition is one registered step pattern, indexed alongside the driver
// that contributed it. Compiled once at registration and cached.
type Definition struct {
	ID          string `json:"id"`
	Pattern     string `json:"pattern"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
	DriverID    string `json:"-"`

	compiled *regexp.Regexp
}

// Registry holds every registered Definition in registration order. It is
// populated once at startup and is read-only during execution; Match is
// safe for concurrent callers.
type Registry struct {
	mu   sync.RWMutex
	defs []*Definition
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Register compiles pattern and appends it to the registry. Registration
// order is significant: it determines match precedence (first-wins).
func (r *Registry) Register(driverID string, def Definition) error {
	compiled, err := compilePattern(def.Pattern)
	if err != nil {
		return err
	}
	def.DriverID = driverID
	def.compiled = compiled

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = append(r.defs, &def)
	return nil
}

// Match resolves step text to the first registered definition whose
// compiled pattern matches, returning its driver id, action, and the
// captured arguments in order. Multiple matches are legal; the first-wins
// by registration order, and every additional match is reported back to the
// caller so it can log a diagnostic warning.
type MatchResult struct {
	DriverID       string
	Action         string
	Args           []string
	AmbiguousCount int
}

func (r *Registry) Match(text string) (*MatchResult, error) {
	r.mu.RLock()
	defs := r.defs
	r.mu.RUnlock()

	var first *MatchResult
	ambiguous := 0

	for _, def := range defs {
		m := def.compiled.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if first == nil {
			first = &MatchResult{DriverID: def.DriverID, Action: def.Action, Args: m[1:]}
		} else {
			ambiguous++
		}
	}

	if first == nil {
		return nil, &hosterr.UnmatchedStep{Step: text, Suggestions: r.suggest(text)}
	}
	first.AmbiguousCount = ambiguous
	return first, nil
}

// suggest ranks registered pattern literals by edit distance to text and
// returns the closest few, for the UnmatchedStep diagnostic.
func (r *Registry) suggest(text string) []string {
	r.mu.RLock()
	defs := r.defs
	r.mu.RUnlock()

	type scored struct {
		pattern string
		dist    int
	}
	var candidates []scored
	for _, def := range defs {
		candidates = append(candidates, scored{pattern: def.Pattern, dist: levenshtein(text, def.Pattern)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })

	const maxSuggestions = 3
	var out []string
	for i, c := range candidates {
		if i >= maxSuggestions {
			break
		}
		out = append(out, c.pattern)
	}
	return out
}

// Definitions returns a snapshot of every registered definition, in
// registration order, for diagnostics.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, len(r.defs))
	for i, d := range r.defs {
		out[i] = *d
	}
	return out
}
