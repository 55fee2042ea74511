package llm

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/qaforge/internal/keypool"
)

// Registry is the set of usable providers, built once at startup. A
// provider without credentials is simply absent.
type Registry struct {
	pool      *keypool.Pool
	providers map[string]Provider
	primary   string
	secondary string
}

// NewRegistry registers every provider that has credentials in pool. The
// primary must be usable. An unusable secondary falls back to the primary.
func NewRegistry(pool *keypool.Pool, primary, secondary string, providers ...Provider) (*Registry, error) {
	r := &Registry{pool: pool, providers: make(map[string]Provider)}
	for _, p := range providers {
		if pool.Configured(p.Name()) {
			r.providers[p.Name()] = p
		}
	}

	if _, ok := r.providers[primary]; !ok {
		return nil, eris.Wrapf(keypool.ErrNotConfigured, "llm: primary provider %q", primary)
	}
	r.primary = primary

	r.secondary = secondary
	if _, ok := r.providers[secondary]; !ok {
		if secondary != "" {
			zap.L().Info("llm: secondary provider not configured, using primary",
				zap.String("secondary", secondary),
				zap.String("primary", primary),
			)
		}
		r.secondary = primary
	}
	return r, nil
}

// Provider returns the named provider if it is registered.
func (r *Registry) Provider(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Primary is the provider used for themes, Q&A, gaps and validation.
func (r *Registry) Primary() string { return r.primary }

// Secondary is the provider used for synthetic generation and the
// validation context.
func (r *Registry) Secondary() string { return r.secondary }

// Pool returns the credential pool.
func (r *Registry) Pool() *keypool.Pool { return r.pool }

// Names lists registered providers, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
