package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// LLM implements Generator by prompting a Completer for JSON.
type LLM struct {
	completer Completer
	limiter   *rate.Limiter
	log       zerolog.Logger
}

// LLMOption configures an LLM.
type LLMOption func(*LLM)

// WithRateLimit paces requests to perMinute with the given burst. Zero
// disables pacing.
func WithRateLimit(perMinute float64, burst int) LLMOption {
	return func(l *LLM) {
		if perMinute <= 0 {
			l.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(perMinute/60), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) LLMOption {
	return func(l *LLM) { l.log = log }
}

// NewLLM returns a Generator over c.
func NewLLM(c Completer, opts ...LLMOption) *LLM {
	l := &LLM{completer: c, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GenerateBatch implements Generator.
func (l *LLM) GenerateBatch(ctx context.Context, kind string, excluded []string, max int) ([]Item, error) {
	if max <= 0 {
		return nil, nil
	}
	text, err := l.complete(ctx, batchPrompt(kind, excluded, max))
	if err != nil {
		return nil, err
	}
	items, err := ParseItems(text)
	if err != nil {
		return nil, &Error{Provider: l.completer.Provider(), Code: CodeInvalidResponse, Err: err}
	}
	if len(items) > max {
		items = items[:max]
	}
	l.log.Debug().Str("kind", kind).Int("items", len(items)).Msg("batch generated")
	return items, nil
}

// GenerateOne implements Generator.
func (l *LLM) GenerateOne(ctx context.Context, kind, name string) (Item, error) {
	text, err := l.complete(ctx, onePrompt(kind, name))
	if err != nil {
		return nil, err
	}
	item, err := ParseItem(text)
	if err != nil {
		return nil, &Error{Provider: l.completer.Provider(), Code: CodeInvalidResponse, Err: err}
	}
	return item, nil
}

func (l *LLM) complete(ctx context.Context, prompt string) (string, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return "", classifyTransport(l.completer.Provider(), err)
		}
	}
	return l.completer.Complete(ctx, prompt)
}

func batchPrompt(kind string, excluded []string, max int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "List up to %d distinct tabletop RPG %s.\n", max, kind)
	b.WriteString(`Respond with a JSON array only. Each element is an object with at least a "name" string field plus the usual game statistics for the item.` + "\n")
	if len(excluded) > 0 {
		names, _ := json.Marshal(excluded)
		fmt.Fprintf(&b, "Do not include any item whose name appears in this list: %s\n", names)
	}
	b.WriteString("If no further items exist, respond with [].")
	return b.String()
}

func onePrompt(kind, name string) string {
	quoted, _ := json.Marshal(name)
	return fmt.Sprintf(
		"Describe the tabletop RPG %s named %s as a single JSON object with a \"name\" field and its usual game statistics. "+
			"Respond with the JSON object only, or null if no such %s exists.",
		kind, quoted, kind)
}
