package generator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Config selects and configures a provider. It is injected at construction;
// nothing here is read from the store.
type Config struct {
	Provider          string  `yaml:"provider" json:"provider"`
	APIKey            string  `yaml:"api_key" json:"-"`
	Model             string  `yaml:"model" json:"model"`
	BaseURL           string  `yaml:"base_url" json:"base_url,omitempty"`
	Temperature       float32 `yaml:"temperature" json:"temperature"`
	RequestsPerMinute float64 `yaml:"requests_per_minute" json:"requests_per_minute"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// New builds the LLM generator described by cfg.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*LLM, error) {
	var (
		c   Completer
		err error
	)
	switch cfg.Provider {
	case "", providerOpenAI:
		c, err = NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Temperature)
	case providerGemini:
		c, err = NewGemini(ctx, cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Temperature)
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewLLM(c,
		WithRateLimit(cfg.RequestsPerMinute, cfg.Burst),
		WithLogger(log.With().Str("provider", c.Provider()).Logger()),
	), nil
}
