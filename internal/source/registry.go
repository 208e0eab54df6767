package source

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/tjsasakifln/licitasearch/internal/config"
	"github.com/tjsasakifln/licitasearch/internal/resilience"
)

// Entry is one registered source: its adapter, its static configuration, and
// the resilient client that fetches from it.
type Entry struct {
	Adapter Adapter
	Config  config.SourceConfig
	Client  *ResilientClient
}

// Registry holds all known sources keyed by code.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds a source entry. Registering a duplicate code is an error.
func (r *Registry) Register(e *Entry) error {
	if e == nil || e.Adapter == nil {
		return eris.New("registry: nil entry")
	}
	code := e.Adapter.Code()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[code]; exists {
		return eris.Errorf("registry: source %q already registered", code)
	}
	r.entries[code] = e
	return nil
}

// Get returns the entry for the given source code.
func (r *Registry) Get(code string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[code]
	return e, ok
}

// Enabled returns the enabled sources sorted by priority (lowest first),
// ties broken by code.
func (r *Registry) Enabled() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Config.Enabled {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Config.Priority != out[j].Config.Priority {
			return out[i].Config.Priority < out[j].Config.Priority
		}
		return out[i].Adapter.Code() < out[j].Adapter.Code()
	})
	return out
}

// All returns every registered source, enabled or not, sorted by priority.
func (r *Registry) All() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Config.Priority != out[j].Config.Priority {
			return out[i].Config.Priority < out[j].Config.Priority
		}
		return out[i].Adapter.Code() < out[j].Adapter.Code()
	})
	return out
}

// Priority returns the dedup priority of the given source code. Unknown
// codes sort last.
func (r *Registry) Priority(code string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[code]; ok {
		return e.Config.Priority
	}
	return int(^uint(0) >> 1)
}

// BuildRegistry wires the configured sources into a registry: each enabled
// source gets its adapter, a dedicated circuit breaker from breakers, and a
// resilient client. Unknown source codes in the config are an error.
func BuildRegistry(cfgs []config.SourceConfig, breakers *resilience.ServiceBreakers, retryCfg resilience.RetryConfig) (*Registry, error) {
	reg := NewRegistry()
	for _, sc := range cfgs {
		adapter, err := NewAdapter(sc)
		if err != nil {
			return nil, err
		}
		entry := &Entry{
			Adapter: adapter,
			Config:  sc,
			Client:  NewResilientClient(adapter, sc, ClientOptions{Breaker: breakers.Get(sc.Code), Retry: retryCfg}),
		}
		if err := reg.Register(entry); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// NewAdapter constructs the adapter for a configured source code.
func NewAdapter(sc config.SourceConfig) (Adapter, error) {
	switch sc.Code {
	case "pncp":
		return NewPNCPAdapter(sc), nil
	case "comprasnet":
		return NewComprasnetAdapter(sc), nil
	case "transparencia":
		return NewTransparenciaAdapter(sc), nil
	default:
		return nil, eris.Errorf("registry: unknown source code %q", sc.Code)
	}
}
