// Package aiadapter defines the narrow contract to the generative-AI
// subprocess. The invocation mechanism itself is out of scope;
// only the request/response shape, the 60-second deadline, and the
// failure envelope are contractual. Callers must never hold a store lock
// across Complete — the call runs between DB critical sections.
package aiadapter

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/derr"
)

// Deadline is the hard ceiling on one completion call.
const Deadline = 60 * time.Second

// ErrTimeout is returned when a completion exceeds the deadline. It
// classifies as retryable: the next cycle may succeed.
var ErrTimeout = errors.New("ai completion timed out")

// ErrNotAvailable is returned when the AI backend is not installed or
// not authenticated. It classifies as requiring user action.
var ErrNotAvailable = errors.New("ai backend not available")

// Completer produces one completion for one prompt. Implementations wrap
// whatever subprocess or service the host provides.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// WithDeadline wraps a Completer so every call carries the 60-second
// deadline and timeouts come back classified in the error envelope.
func WithDeadline(inner Completer) Completer {
	return CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, Deadline)
		defer cancel()

		type result struct {
			text string
			err  error
		}
		ch := make(chan result, 1)
		go func() {
			text, err := inner.Complete(ctx, prompt)
			ch <- result{text, err}
		}()

		select {
		case <-ctx.Done():
			return "", derr.WrapRetryable("aiadapter.complete", ErrTimeout)
		case r := <-ch:
			if r.err != nil {
				if errors.Is(r.err, ErrNotAvailable) {
					return "", derr.WrapUserAction("aiadapter.complete",
						"install and authenticate the AI CLI, then retry", r.err)
				}
				return "", derr.WrapRetryable("aiadapter.complete", r.err)
			}
			return r.text, nil
		}
	})
}

// ExtractJSON slices a completion from its first `{` to its last `}`,
// tolerating prose around a single JSON object.
func ExtractJSON(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// ExtractJSONArray slices a completion from its first `[` to its last
// `]`, used by the action-extraction pass.
func ExtractJSONArray(text string) (string, bool) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
