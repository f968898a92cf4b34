// Package analysis wraps AI providers behind a single adapter
// interface. The worker hands it file bytes plus an analysis type and
// gets back a normalized output regardless of which provider ran the
// call. Provider failures are classified into typed errors so the
// scheduler can decide between retry and terminal failure.
package analysis

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Input is one analysis request.
type Input struct {
	Filename     string
	MIMEType     string
	Data         []byte
	AnalysisType string
	// CustomPrompt overrides the built-in prompt library when set.
	CustomPrompt string
}

// Output is the normalized result of a provider call. Fields map
// directly onto the analysis_results columns.
type Output struct {
	RawText           string
	Summary           string
	StructuredData    map[string]any
	ExtractedEntities map[string]any
	ExtractedDates    map[string]any
	ExtractedAmounts  map[string]any
	ConfidenceScore   *float64
	QualityFlags      []string
	ModelVersion      string
	TokensUsed        *int
}

// Provider is one AI backend.
type Provider interface {
	// Name identifies the provider in results and cache keys.
	Name() string
	// Analyze runs one analysis call. Implementations honor ctx
	// cancellation and return *ProviderError for classified failures.
	Analyze(ctx context.Context, in Input) (*Output, error)
}

// Registry holds the configured providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	def       string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p under its name. The first registered provider
// becomes the default.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.providers) == 0 {
		r.def = p.Name()
	}
	r.providers[p.Name()] = p
}

// Get returns the named provider, or the default when name is empty.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.def
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown analysis provider %q", name)
	}
	return p, nil
}

// Names lists the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
