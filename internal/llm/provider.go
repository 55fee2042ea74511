package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sells-group/qaforge/internal/keypool"
	"github.com/sells-group/qaforge/internal/resilience"
)

// Provider issues one call with one credential. Errors are always
// *resilience.Failure.
type Provider interface {
	Name() string
	Send(ctx context.Context, req Request, cred keypool.Credential) (*Completion, error)
}

// Timeouts holds per-content-type call timeouts. Binary-bearing calls get a
// shorter bound since they are the ones likely to run past platform limits.
type Timeouts struct {
	Text   time.Duration
	Binary time.Duration
}

// DefaultTimeouts returns 120s for text and 25s for binary calls.
func DefaultTimeouts() Timeouts {
	return Timeouts{Text: 120 * time.Second, Binary: 25 * time.Second}
}

// For picks the timeout for req.
func (t Timeouts) For(req Request) time.Duration {
	if req.HasBinary() {
		return t.Binary
	}
	return t.Text
}

// Send calls p under req.Timeout. When the deadline fires the call is
// aborted and a Timeout failure is returned.
func Send(ctx context.Context, p Provider, req Request, cred keypool.Credential) (*Completion, error) {
	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	c, err := p.Send(callCtx, req, cred)
	if err == nil {
		return c, nil
	}

	var f *resilience.Failure
	switch {
	case ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded):
		f = resilience.NewFailure(resilience.KindTimeout, 0,
			fmt.Sprintf("request exceeded %s timeout", req.Timeout), err)
	default:
		var ok bool
		if f, ok = resilience.AsFailure(err); !ok {
			f = resilience.FromResponse(0, "", err)
		}
	}
	if f.Provider == "" {
		f.Provider = p.Name()
	}
	return nil, f
}
