// Package config loads grimoire.yaml.
//
// A file is checked against the embedded CUE schema before it is decoded,
// then overlaid on Default. Environment variables override the file.
package config

import (
	"fmt"
	"time"

	"github.com/roach88/grimoire/internal/archive"
	"github.com/roach88/grimoire/internal/generator"
	"github.com/roach88/grimoire/internal/integrity"
	"github.com/roach88/grimoire/internal/migrate"
	"github.com/roach88/grimoire/internal/retry"
)

// DefaultPath is read when --config is not given. It may be absent.
const DefaultPath = "grimoire.yaml"

// Config is the whole configuration file.
type Config struct {
	Store     Store            `yaml:"store" json:"store"`
	Archive   Archive          `yaml:"archive" json:"archive"`
	Integrity Integrity        `yaml:"integrity" json:"integrity"`
	Plans     []migrate.Plan   `yaml:"plans" json:"plans"`
	Generator generator.Config `yaml:"generator" json:"generator"`
	Retry     Retry            `yaml:"retry" json:"retry"`
	Reconcile Reconcile        `yaml:"reconcile" json:"reconcile"`
	Repair    Repair           `yaml:"repair" json:"repair"`
	Server    Server           `yaml:"server" json:"server"`
}

// Store selects the backend. A DSN starting with mongodb:// or
// mongodb+srv:// opens MongoDB; anything else is a SQLite path.
type Store struct {
	DSN     string `yaml:"dsn" json:"dsn"`
	Timeout string `yaml:"timeout" json:"timeout"`
}

type Archive struct {
	Primary            string   `yaml:"primary" json:"primary"`
	EntryLike          []string `yaml:"entry_like" json:"entry_like"`
	StripEntryIdentity bool     `yaml:"strip_entry_identity" json:"strip_entry_identity"`
	Exclude            []string `yaml:"exclude" json:"exclude"`
	MaxMemberSize      int64    `yaml:"max_member_size" json:"max_member_size"`
}

type Integrity struct {
	integrity.Layout `yaml:",inline"`
	Orphans          string   `yaml:"orphans" json:"orphans"`
	AllowEmptyCodex  bool     `yaml:"allow_empty_codex" json:"allow_empty_codex"`
	Tolerate         []string `yaml:"tolerate" json:"tolerate"`
}

type Retry struct {
	MaxAttempts int     `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   string  `yaml:"base_delay" json:"base_delay"`
	MaxDelay    string  `yaml:"max_delay" json:"max_delay"`
	Growth      string  `yaml:"growth" json:"growth"`
	Jitter      float64 `yaml:"jitter" json:"jitter"`
}

type Reconcile struct {
	BatchSize     int `yaml:"batch_size" json:"batch_size"`
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
}

type Repair struct {
	GroupSize int    `yaml:"group_size" json:"group_size"`
	Pause     string `yaml:"pause" json:"pause"`
	MaxCalls  int    `yaml:"max_calls" json:"max_calls"`
}

type Server struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Default returns the stock configuration: a local SQLite file and the
// default collection layout.
func Default() *Config {
	return &Config{
		Store: Store{DSN: "grimoire.db", Timeout: "10s"},
		Archive: Archive{
			Primary:       "bestiary",
			EntryLike:     []string{"*entries"},
			MaxMemberSize: archive.DefaultMaxMemberSize,
		},
		Integrity: Integrity{Layout: integrity.DefaultLayout(), Orphans: string(integrity.OrphanDelete)},
		Plans: []migrate.Plan{
			defaultPlan("equipment", "eq_"),
			defaultPlan("rules", "rule_"),
			defaultPlan("spells", "spell_"),
		},
		Generator: generator.Config{
			Provider:          "openai",
			Temperature:       0.7,
			RequestsPerMinute: 30,
			Burst:             1,
		},
		Retry:     Retry{MaxAttempts: 3, BaseDelay: "1s", MaxDelay: "30s", Growth: string(retry.Exponential), Jitter: 0.2},
		Reconcile: Reconcile{BatchSize: 10, MaxIterations: 50},
		Repair:    Repair{GroupSize: 5, Pause: "1s"},
		Server:    Server{Addr: ":8080"},
	}
}

func defaultPlan(collection, prefix string) migrate.Plan {
	return migrate.Plan{
		Name:       collection,
		Target:     collection,
		Prefix:     prefix,
		Dependents: []migrate.Dependent{{Collection: "entities", LinkField: collection}},
	}
}

// Validate checks what the schema cannot: durations parse and nested
// layouts and plans are consistent.
func (c *Config) Validate() error {
	for field, s := range map[string]string{
		"store.timeout":    c.Store.Timeout,
		"retry.base_delay": c.Retry.BaseDelay,
		"retry.max_delay":  c.Retry.MaxDelay,
		"repair.pause":     c.Repair.Pause,
	} {
		if _, err := parseDuration(s); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	if err := c.Integrity.Layout.Validate(); err != nil {
		return fmt.Errorf("integrity: %w", err)
	}
	if _, err := integrity.ParseOrphanPolicy(c.Integrity.Orphans); err != nil {
		return fmt.Errorf("integrity: %w", err)
	}
	seen := map[string]bool{}
	for _, p := range c.Plans {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return fmt.Errorf("plan %q defined twice", p.Name)
		}
		seen[p.Name] = true
	}
	if _, err := c.RetryPolicy(); err != nil {
		return err
	}
	return nil
}

// RetryPolicy builds the generator retry policy.
func (c *Config) RetryPolicy() (retry.Policy, error) {
	base, err := parseDuration(c.Retry.BaseDelay)
	if err != nil {
		return retry.Policy{}, fmt.Errorf("retry.base_delay: %w", err)
	}
	maxDelay, err := parseDuration(c.Retry.MaxDelay)
	if err != nil {
		return retry.Policy{}, fmt.Errorf("retry.max_delay: %w", err)
	}
	p := retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   base,
		MaxDelay:    maxDelay,
		Growth:      retry.Growth(c.Retry.Growth),
		Jitter:      c.Retry.Jitter,
	}
	return p, p.Validate()
}

// StoreTimeout bounds connecting to the store.
func (c *Config) StoreTimeout() time.Duration {
	d, _ := parseDuration(c.Store.Timeout)
	return d
}

// RepairPause is the wait between link repair groups.
func (c *Config) RepairPause() time.Duration {
	d, _ := parseDuration(c.Repair.Pause)
	return d
}

// ArchiveOptions translates the archive section into codec options.
func (c *Config) ArchiveOptions() []archive.Option {
	opts := []archive.Option{
		archive.WithStripEntryIdentity(c.Archive.StripEntryIdentity),
		archive.WithExclude(c.Archive.Exclude...),
	}
	if c.Archive.Primary != "" {
		opts = append(opts, archive.WithPrimary(c.Archive.Primary))
	}
	if len(c.Archive.EntryLike) > 0 {
		opts = append(opts, archive.WithEntryLike(c.Archive.EntryLike...))
	}
	if c.Archive.MaxMemberSize > 0 {
		opts = append(opts, archive.WithMaxMemberSize(c.Archive.MaxMemberSize))
	}
	return opts
}

// Plan returns the normalization plan called name.
func (c *Config) Plan(name string) (migrate.Plan, bool) {
	for _, p := range c.Plans {
		if p.Name == name {
			return p, true
		}
	}
	return migrate.Plan{}, false
}

// parseDuration accepts "" and "0" as zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
