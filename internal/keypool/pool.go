// Package keypool holds the ordered API credentials of each provider and
// hands out the next usable one during a run.
package keypool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
)

// Provider identifiers.
const (
	Gemini     = "gemini"
	OpenRouter = "openrouter"
	Anthropic  = "anthropic"
)

var (
	// ErrNotConfigured means the provider has no credentials at all. It is
	// fatal and never retried.
	ErrNotConfigured = eris.New("keypool: provider not configured")
	// ErrExhausted means every credential of the provider is excluded for
	// the current run.
	ErrExhausted = eris.New("keypool: all credentials excluded")
)

// Credential is one API key of a provider. Index is its position in the
// provider's priority order, starting at 0.
type Credential struct {
	Provider string
	Index    int
	Key      string
}

// Fingerprint returns a masked form of the key that is safe to log.
func (c Credential) Fingerprint() string {
	if len(c.Key) <= 8 {
		return strings.Repeat("*", len(c.Key))
	}
	return c.Key[:4] + "..." + c.Key[len(c.Key)-4:]
}

// String never includes the raw key.
func (c Credential) String() string {
	return fmt.Sprintf("%s#%d(%s)", c.Provider, c.Index, c.Fingerprint())
}

// Exclusions is the run-scoped set of credentials known to be bad. It is
// never persisted. A nil *Exclusions excludes nothing.
type Exclusions struct {
	mu     sync.Mutex
	set    map[string]map[int]bool
	causes map[string]error
}

// NewExclusions creates an empty exclusion set.
func NewExclusions() *Exclusions {
	return &Exclusions{set: make(map[string]map[int]bool), causes: make(map[string]error)}
}

// Exclude marks c bad for the rest of the run.
func (e *Exclusions) Exclude(c Credential) {
	e.ExcludeWith(c, nil)
}

// ExcludeWith marks c bad and remembers cause as the provider's most recent
// failure. A nil cause keeps the previous one.
func (e *Exclusions) ExcludeWith(c Credential, cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set[c.Provider] == nil {
		e.set[c.Provider] = make(map[int]bool)
	}
	e.set[c.Provider][c.Index] = true
	if cause != nil {
		e.causes[c.Provider] = cause
	}
}

// LastCause returns the failure recorded with the provider's most recent
// exclusion, or nil.
func (e *Exclusions) LastCause(provider string) error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.causes[provider]
}

// Excluded reports whether c has been marked bad.
func (e *Exclusions) Excluded(c Credential) bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set[c.Provider][c.Index]
}

// Count returns how many credentials of provider are excluded.
func (e *Exclusions) Count(provider string) int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.set[provider])
}

type exclusionsKey struct{}

// WithExclusions returns a context carrying the run's exclusion set so
// collaborators that call providers share it.
func WithExclusions(ctx context.Context, e *Exclusions) context.Context {
	return context.WithValue(ctx, exclusionsKey{}, e)
}

// ExclusionsFrom returns the exclusion set carried by ctx, or nil.
func ExclusionsFrom(ctx context.Context) *Exclusions {
	e, _ := ctx.Value(exclusionsKey{}).(*Exclusions)
	return e
}

// Pool holds credentials per provider in fixed priority order. It is
// read-only after construction.
type Pool struct {
	creds map[string][]Credential
}

// New builds a pool from ordered keys per provider. Blank and duplicate keys
// are dropped; the first occurrence keeps its position.
func New(keys map[string][]string) *Pool {
	p := &Pool{creds: make(map[string][]Credential, len(keys))}
	for provider, list := range keys {
		seen := make(map[string]bool, len(list))
		for _, k := range list {
			k = strings.TrimSpace(k)
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			p.creds[provider] = append(p.creds[provider], Credential{
				Provider: provider,
				Index:    len(p.creds[provider]),
				Key:      k,
			})
		}
	}
	return p
}

// Next returns the first credential of provider, in priority order, that is
// not in excluding.
func (p *Pool) Next(provider string, excluding *Exclusions) (Credential, error) {
	list := p.creds[provider]
	if len(list) == 0 {
		return Credential{}, eris.Wrapf(ErrNotConfigured, "provider %q", provider)
	}
	for _, c := range list {
		if !excluding.Excluded(c) {
			return c, nil
		}
	}
	return Credential{}, eris.Wrapf(ErrExhausted, "provider %q (%d keys)", provider, len(list))
}

// Size returns the number of credentials configured for provider.
func (p *Pool) Size(provider string) int {
	return len(p.creds[provider])
}

// Configured reports whether provider has at least one credential.
func (p *Pool) Configured(provider string) bool {
	return p.Size(provider) > 0
}

// Credentials returns a copy of the provider's credentials in order.
func (p *Pool) Credentials(provider string) []Credential {
	return append([]Credential(nil), p.creds[provider]...)
}

// Providers lists configured providers, sorted by name.
func (p *Pool) Providers() []string {
	out := make([]string, 0, len(p.creds))
	for name, list := range p.creds {
		if len(list) > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
