package providers

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/chainlens-core/server/internal/agent/model"
	errx "github.com/chainlens-core/server/internal/core/error"
	logx "github.com/chainlens-core/server/pkg/logger"
)

const (
	ProviderNodit   = "nodit"
	ProviderOneInch = "1inch"
	ProviderZircuit = "zircuit"

	DefaultProvider = ProviderNodit
)

// Factory builds a provider from configuration and a shared HTTP client.
type Factory func(cfg model.ProviderConfig, client *http.Client) (Provider, error)

// Registry maps provider identifiers to factories. It is built once at startup.
type Registry struct {
	factories map[string]Factory
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// DefaultRegistry holds the three built-in providers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ProviderNodit, NewNodit)
	r.Register(ProviderOneInch, NewOneInch)
	r.Register(ProviderZircuit, NewZircuit)
	return r
}

func (r *Registry) Register(name string, f Factory) {
	key := normalizeName(name)
	if _, ok := r.factories[key]; !ok {
		r.order = append(r.order, key)
	}
	r.factories[key] = f
}

// Names returns identifiers in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Has(name string) bool {
	_, ok := r.factories[normalizeName(name)]
	return ok
}

// New builds the named provider. Unknown names and constructor failures are
// reported as errx.ErrProviderUnavailable; no other provider is substituted.
func (r *Registry) New(name string, cfg model.ProviderConfig, client *http.Client) (Provider, error) {
	key := normalizeName(name)
	f, ok := r.factories[key]
	if !ok {
		err := errx.ProviderUnavailable(name, fmt.Errorf("not registered, known providers: %s", strings.Join(r.order, ", ")))
		logx.Error().Err(err).Str("provider", name).Msg("Unknown tool provider")
		return nil, err
	}
	p, err := f(cfg, client)
	if err != nil {
		logx.Error().Err(err).Str("provider", key).Msg("Failed to construct tool provider")
		if errx.Is(err, errx.ErrProviderUnavailable) {
			return nil, err
		}
		return nil, errx.ProviderUnavailable(key, err)
	}
	return p, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Selector holds the process-wide provider choice. Resolve snapshots the
// current choice; callers built earlier keep the provider they resolved.
type Selector struct {
	mu       sync.RWMutex
	current  string
	registry *Registry
	cfg      model.ProviderConfig
	client   *http.Client
}

func NewSelector(registry *Registry, cfg model.ProviderConfig) *Selector {
	current := normalizeName(cfg.Server)
	if current == "" {
		current = DefaultProvider
	}
	return &Selector{
		current:  current,
		registry: registry,
		cfg:      cfg,
		client:   NewHTTPClient(cfg.Timeout),
	}
}

func (s *Selector) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Select switches the provider for callers constructed afterwards.
func (s *Selector) Select(name string) error {
	if !s.registry.Has(name) {
		return errx.ProviderUnavailable(name, fmt.Errorf("not registered"))
	}
	s.mu.Lock()
	prev := s.current
	s.current = normalizeName(name)
	s.mu.Unlock()
	logx.Info().Str("from", prev).Str("to", s.current).Msg("Tool provider switched")
	return nil
}

func (s *Selector) Available() []string {
	return s.registry.Names()
}

// Resolve builds the currently selected provider.
func (s *Selector) Resolve() (Provider, error) {
	return s.registry.New(s.Current(), s.cfg, s.client)
}
