package migrate

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/grimoire/internal/doc"
)

// SlugOption adjusts Slug.
type SlugOption func(*slugConfig)

type slugConfig struct {
	fold bool
}

// FoldDiacritics strips combining marks before slugging, so "Café" gives
// "cafe" instead of "caf_".
func FoldDiacritics() SlugOption {
	return func(c *slugConfig) { c.fold = true }
}

// Slug lower-cases name and collapses every run of characters outside
// [a-z0-9] into a single underscore. Nothing is trimmed: "Sword (Magic)"
// gives "sword_magic_".
func Slug(name string, opts ...SlugOption) string {
	var cfg slugConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.fold {
		t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
		if folded, _, err := transform.String(t, name); err == nil {
			name = folded
		}
	}
	name = strings.ToLower(name)

	var b strings.Builder
	b.Grow(len(name))
	gap := false
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if gap {
				b.WriteByte('_')
			}
			gap = false
			b.WriteRune(r)
			continue
		}
		gap = true
	}
	if gap {
		b.WriteByte('_')
	}
	return b.String()
}

// CanonicalID returns prefix + Slug(name) as a string identity, or the zero
// Identity when name holds no letter or digit.
func CanonicalID(prefix, name string, opts ...SlugOption) doc.Identity {
	slug := Slug(name, opts...)
	if strings.Trim(slug, "_") == "" {
		return doc.Identity{}
	}
	return doc.StringID(prefix + slug)
}
