package pipeline

import (
	"context"
	"errors"

	"github.com/sells-group/qaforge/internal/keypool"
	"github.com/sells-group/qaforge/internal/recovery"
	"github.com/sells-group/qaforge/internal/resilience"
)

// UserMessage converts a run error into the single sentence shown to users.
// Details stay in the logs.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	prefix := ""
	var se *StageError
	if errors.As(err, &se) {
		switch se.Stage {
		case StagePreprocess:
			prefix = "Content preparation failed: "
		case StageQAGeneration:
			prefix = "Q&A generation failed: "
		default:
			prefix = "Generation failed: "
		}
	}
	return prefix + describe(err)
}

func describe(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "generation was cancelled."
	case errors.Is(err, ErrNoContent):
		return "none of the sources contained usable text."
	case errors.Is(err, ErrInsufficientContent):
		return "the sources contain too little text to generate questions from."
	case errors.Is(err, ErrNoPairs):
		return "the AI provider returned no usable question and answer pairs."
	case errors.Is(err, keypool.ErrNotConfigured):
		return "no API key is configured for the AI provider."
	}

	var pe *recovery.ParseError
	if errors.As(err, &pe) {
		return "the AI response could not be understood."
	}

	if f, ok := resilience.AsFailure(err); ok {
		switch f.Kind {
		case resilience.KindRateLimited:
			if f.KeysAttempted > 1 {
				return "every API key is rate limited or out of quota. Try again later or add another key."
			}
			return "the API key is rate limited or out of quota. Try again later or add another key."
		case resilience.KindAuth:
			return "the API key was rejected. Check that it is valid."
		case resilience.KindTimeout:
			return "the AI provider took too long to respond."
		case resilience.KindServiceUnavailable:
			return "the AI provider is temporarily unavailable."
		case resilience.KindSafetyBlocked:
			return "the AI provider blocked the request for safety reasons."
		case resilience.KindBadRequest:
			return "the AI provider rejected the request."
		}
		return "the AI provider returned an unexpected error."
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "the run took too long and was stopped."
	}
	return "an unexpected error occurred."
}
