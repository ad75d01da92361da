// Package generator is the batch item generator capability: an external
// content source asked for domain items (spells, equipment, rules) by kind.
//
// LLM implements it over a text Completer. OpenAI and Gemini completers are
// provided; tests use a scripted fake.
package generator

import (
	"context"
)

// Generator produces free-form items, each an object with at least a
// non-empty "name".
type Generator interface {
	// GenerateBatch returns up to max items of kind whose names are not in
	// excluded. An empty result means the source is exhausted.
	GenerateBatch(ctx context.Context, kind string, excluded []string, max int) ([]Item, error)

	// GenerateOne returns the item of kind called name, or nil when the
	// source does not know it.
	GenerateOne(ctx context.Context, kind, name string) (Item, error)
}

// Completer turns a prompt into raw model text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	// Provider names the backend in errors and logs.
	Provider() string
}
