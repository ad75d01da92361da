package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Environment variables read by ApplyEnv.
const (
	EnvStoreDSN        = "GRIMOIRE_STORE_DSN"
	EnvGeneratorAPIKey = "GRIMOIRE_GENERATOR_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGeminiAPIKey    = "GEMINI_API_KEY"
)

// SchemaError reports a config file that does not match the schema.
type SchemaError struct {
	Path    string
	Details []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Path, strings.Join(e.Details, "; "))
}

// Load reads path, validates it and applies the environment. A missing file
// is an error only when required is set; otherwise defaults are used.
func Load(path string, required bool) (*Config, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !required:
		cfg := Default()
		cfg.ApplyEnv(os.LookupEnv)
		return cfg, cfg.Validate()
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, cfg.Validate()
}

// Parse validates data against the schema and overlays it on Default. name
// is only used in error messages.
func Parse(name string, data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config %s: %w", name, err)
	}
	if err := checkSchema(name, raw); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", name, err)
	}
	return cfg, nil
}

func checkSchema(name string, raw map[string]any) error {
	if raw == nil {
		return nil
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return errors.New("config schema has no #Config")
	}

	value := ctx.Encode(raw)
	if err := value.Err(); err != nil {
		return fmt.Errorf("config %s: %w", name, err)
	}
	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		se := &SchemaError{Path: name}
		for _, e := range cueerrors.Errors(err) {
			se.Details = append(se.Details, e.Error())
		}
		return se
	}
	return nil
}

// ApplyEnv overrides the store DSN and generator API key from the
// environment. The provider-specific key is used when the generic one is
// unset.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvStoreDSN); ok && v != "" {
		c.Store.DSN = v
	}
	if v, ok := lookup(EnvGeneratorAPIKey); ok && v != "" {
		c.Generator.APIKey = v
		return
	}
	if c.Generator.APIKey != "" {
		return
	}
	fallback := EnvOpenAIAPIKey
	if c.Generator.Provider == "gemini" {
		fallback = EnvGeminiAPIKey
	}
	if v, ok := lookup(fallback); ok {
		c.Generator.APIKey = v
	}
}
