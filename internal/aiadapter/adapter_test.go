package aiadapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/derr"
)

func TestExtractJSONToleratesSurroundingText(t *testing.T) {
	text := "Here is the analysis you asked for:\n{\"sentiment\": \"positive\"}\nLet me know if you need more."
	got, ok := ExtractJSON(text)
	if !ok {
		t.Fatal("expected JSON found")
	}
	if got != `{"sentiment": "positive"}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONMissing(t *testing.T) {
	if _, ok := ExtractJSON("no json here"); ok {
		t.Error("expected not found")
	}
}

func TestExtractJSONArray(t *testing.T) {
	got, ok := ExtractJSONArray("sure: [{\"title\": \"send deck\"}] done")
	if !ok || got != `[{"title": "send deck"}]` {
		t.Errorf("got (%q, %v)", got, ok)
	}
}

func TestWithDeadlinePassesThrough(t *testing.T) {
	c := WithDeadline(CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		return "ok:" + prompt, nil
	}))
	got, err := c.Complete(context.Background(), "hello")
	if err != nil || got != "ok:hello" {
		t.Fatalf("got (%q, %v)", got, err)
	}
}

func TestWithDeadlineTimesOut(t *testing.T) {
	slow := CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(10 * time.Second):
			return "late", nil
		}
	})
	c := WithDeadline(slow)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, "x")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !derr.CanRetry(err) {
		t.Errorf("timeout should classify retryable, got %v", err)
	}
}

func TestWithDeadlineClassifiesUnavailable(t *testing.T) {
	c := WithDeadline(CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", ErrNotAvailable
	}))
	_, err := c.Complete(context.Background(), "x")
	if derr.TypeOf(err) != derr.RequiresUserAction {
		t.Errorf("unavailable backend should require user action, got %v", err)
	}
	var de *derr.Error
	if !errors.As(err, &de) || de.RecoverySuggestion() == "" {
		t.Error("expected a recovery suggestion")
	}
}
