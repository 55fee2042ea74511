package llm

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/qaforge/internal/keypool"
	"github.com/sells-group/qaforge/internal/resilience"
)

// Failover sends a request with each credential of its provider in
// priority order until one succeeds.
type Failover struct {
	registry *Registry
	breakers *resilience.Breakers
	timeouts Timeouts
}

// NewFailover creates a failover client. A nil breakers gets defaults.
func NewFailover(registry *Registry, breakers *resilience.Breakers, timeouts Timeouts) *Failover {
	if breakers == nil {
		breakers = resilience.NewBreakers(resilience.DefaultCircuitBreakerConfig())
	}
	def := DefaultTimeouts()
	if timeouts.Text <= 0 {
		timeouts.Text = def.Text
	}
	if timeouts.Binary <= 0 {
		timeouts.Binary = def.Binary
	}
	return &Failover{registry: registry, breakers: breakers, timeouts: timeouts}
}

// Registry returns the provider registry.
func (f *Failover) Registry() *Registry { return f.registry }

// Do runs req against req.Provider, or the registry's primary provider
// when req.Provider is empty. A failure that rotates keys excludes the
// credential for the rest of the run (excl) and moves on; any other failure
// is returned at once. When every credential is spent the last failure is
// returned with KeysAttempted set.
//
// The provider's circuit breaker sees one outcome per call, after key
// rotation, so an outage trips it only when every key failed.
func (f *Failover) Do(ctx context.Context, req Request, excl *keypool.Exclusions) (*Completion, error) {
	if req.Provider == "" {
		req.Provider = f.registry.Primary()
	}
	p, ok := f.registry.Provider(req.Provider)
	if !ok {
		return nil, eris.Wrapf(keypool.ErrNotConfigured, "llm: provider %q", req.Provider)
	}
	if excl == nil {
		excl = keypool.NewExclusions()
	}
	if req.Timeout <= 0 {
		req.Timeout = f.timeouts.For(req)
	}

	c, err := resilience.ExecuteVal(ctx, f.breakers.Get(p.Name()), func(ctx context.Context) (*Completion, error) {
		return f.rotate(ctx, p, req, excl)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		fail := resilience.NewFailure(resilience.KindServiceUnavailable, 0, "circuit open for provider", err)
		fail.Provider = p.Name()
		return nil, fail
	}
	return c, err
}

func (f *Failover) rotate(ctx context.Context, p Provider, req Request, excl *keypool.Exclusions) (*Completion, error) {
	log := zap.L().With(zap.String("provider", p.Name()), zap.String("stage", req.Stage))

	var last *resilience.Failure
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "llm: request cancelled")
		}

		cred, err := f.registry.Pool().Next(p.Name(), excl)
		if err != nil {
			if !eris.Is(err, keypool.ErrExhausted) {
				return nil, err
			}
			if last == nil {
				last, _ = resilience.AsFailure(excl.LastCause(p.Name()))
				attempts = f.registry.Pool().Size(p.Name())
			}
			return nil, exhausted(p.Name(), last, attempts)
		}

		c, err := Send(ctx, p, req, cred)
		if err == nil {
			c.Provider = p.Name()
			c.KeyIndex = cred.Index
			c.Usage.Log(p.Name(), c.Model, req.Stage)
			if c.Truncated {
				log.Warn("llm: response truncated at token budget",
					zap.String("finish_reason", c.FinishReason),
					zap.Int("output_tokens", c.Usage.OutputTokens),
				)
			}
			return c, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, eris.Wrap(ctxErr, "llm: request cancelled")
		}

		attempts++
		fail, ok := resilience.AsFailure(err)
		if !ok {
			fail = resilience.FromResponse(0, "", err)
		}
		log.Warn("llm: call failed",
			zap.String("key", cred.Fingerprint()),
			zap.Int("key_index", cred.Index),
			zap.Stringer("kind", fail.Kind),
			zap.Int("status", fail.StatusCode),
			zap.String("message", fail.Message),
		)
		if !fail.Kind.RotatesKey() {
			return nil, fail
		}
		excl.ExcludeWith(cred, fail)
		last = fail
	}
}

// exhausted builds the failure returned once no credential is left. With no
// known cause (keys excluded without one) it reports a rate limit.
func exhausted(provider string, last *resilience.Failure, attempts int) *resilience.Failure {
	if last == nil {
		f := resilience.NewFailure(resilience.KindRateLimited, 0, "all credentials already failed in this run", keypool.ErrExhausted)
		f.Provider = provider
		f.KeysAttempted = attempts
		return f
	}
	agg := *last
	agg.Provider = provider
	agg.KeysAttempted = attempts
	return &agg
}
