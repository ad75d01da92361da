package integrity

import (
	"fmt"

	"github.com/roach88/grimoire/internal/store"
)

// LinkField pairs an entity field with the collection its identities point
// into.
type LinkField struct {
	Field      string `yaml:"field" json:"field"`
	Collection string `yaml:"collection" json:"collection"`
}

// Layout names the collections a Scanner works on.
type Layout struct {
	Entities string      `yaml:"entities" json:"entities"`
	Codex    string      `yaml:"codex" json:"codex"`
	Links    []LinkField `yaml:"links" json:"links"`
	// AdoptPath is where OrphanAdopt files statblocks: the first segment is
	// the codex document, the rest nest inside it.
	AdoptPath []string `yaml:"adopt_path" json:"adopt_path"`
}

// DefaultLayout returns the stock collection names.
func DefaultLayout() Layout {
	return Layout{
		Entities: "entities",
		Codex:    "codex",
		Links: []LinkField{
			{Field: "rules", Collection: "rules"},
			{Field: "equipment", Collection: "equipment"},
			{Field: "spells", Collection: "spells"},
		},
		AdoptPath: []string{"uncategorized"},
	}
}

// Validate checks every collection name.
func (l Layout) Validate() error {
	for _, name := range []string{l.Entities, l.Codex} {
		if err := store.CheckCollection(name); err != nil {
			return err
		}
	}
	for _, lf := range l.Links {
		if lf.Field == "" {
			return fmt.Errorf("link field for %s is empty", lf.Collection)
		}
		if err := store.CheckCollection(lf.Collection); err != nil {
			return err
		}
	}
	if len(l.AdoptPath) == 0 || l.AdoptPath[0] == "" {
		return fmt.Errorf("adopt path is empty")
	}
	return nil
}

// Link returns the LinkField for field.
func (l Layout) Link(field string) (LinkField, bool) {
	for _, lf := range l.Links {
		if lf.Field == field {
			return lf, true
		}
	}
	return LinkField{}, false
}
