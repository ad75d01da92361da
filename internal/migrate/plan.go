package migrate

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/store"
)

// Plan describes one normalization.
type Plan struct {
	// Name identifies the plan in logs and on the command line.
	Name string `yaml:"name" json:"name"`
	// Target receives the canonical document set.
	Target string `yaml:"target" json:"target"`
	// Sources are ingested in order; later sources win canonical collisions.
	// The target is ingested first when it is not listed.
	Sources []string `yaml:"sources" json:"sources"`
	// Prefix is prepended to every canonical identity.
	Prefix string `yaml:"prefix" json:"prefix"`
	// FoldDiacritics strips accents from names before slugging.
	FoldDiacritics bool `yaml:"fold_diacritics" json:"fold_diacritics,omitempty"`
	// Dependents hold links into Target that must follow the migration.
	Dependents []Dependent `yaml:"dependents" json:"dependents"`
}

// Dependent names a collection and the fields that link into a plan's
// target.
type Dependent struct {
	Collection string `yaml:"collection" json:"collection"`
	// LinkField is the live link field: an array of identities or an
	// object of level → array.
	LinkField string `yaml:"link_field" json:"link_field"`
	// LegacyLinkFields are merged into LinkField and then removed.
	LegacyLinkFields []string `yaml:"legacy_link_fields" json:"legacy_link_fields"`
}

// ErrInvalidPlan is returned for plans that cannot run.
var ErrInvalidPlan = errors.New("invalid normalization plan")

// Validate checks the plan's collection names and fields.
func (p Plan) Validate() error {
	if !store.ValidCollection(p.Target) {
		return fmt.Errorf("%w: target %q", ErrInvalidPlan, p.Target)
	}
	for _, s := range p.Sources {
		if !store.ValidCollection(s) {
			return fmt.Errorf("%w: source %q", ErrInvalidPlan, s)
		}
	}
	for _, d := range p.Dependents {
		if !store.ValidCollection(d.Collection) {
			return fmt.Errorf("%w: dependent %q", ErrInvalidPlan, d.Collection)
		}
		if d.LinkField == "" || d.LinkField == doc.FieldID {
			return fmt.Errorf("%w: dependent %s link field %q", ErrInvalidPlan, d.Collection, d.LinkField)
		}
		if slices.Contains(d.LegacyLinkFields, d.LinkField) {
			return fmt.Errorf("%w: dependent %s lists %s as legacy and live", ErrInvalidPlan, d.Collection, d.LinkField)
		}
	}
	return nil
}

// CanonicalID returns the plan's canonical identity for name.
func (p Plan) CanonicalID(name string) doc.Identity {
	return CanonicalID(p.Prefix, name, p.SlugOptions()...)
}

// SlugOptions returns the slug options the plan asks for.
func (p Plan) SlugOptions() []SlugOption {
	if p.FoldDiacritics {
		return []SlugOption{FoldDiacritics()}
	}
	return nil
}

// sources returns the ingest order with the target included exactly once.
func (p Plan) sources() []string {
	out := make([]string, 0, len(p.Sources)+1)
	if !slices.Contains(p.Sources, p.Target) {
		out = append(out, p.Target)
	}
	for _, s := range p.Sources {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// Map records legacy identity → canonical identity.
type Map map[string]doc.Identity

// Resolve returns the canonical identity for id, or id unchanged.
func (m Map) Resolve(id string) string {
	if c, ok := m[id]; ok {
		return c.String()
	}
	return id
}
