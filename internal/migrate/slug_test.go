package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/grimoire/internal/doc"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "Fire Bolt", "fire_bolt"},
		{"punctuation runs", "Bigby's  Hand -- Greater", "bigby_s_hand_greater"},
		{"trailing run kept", "Sword (Magic)", "sword_magic_"},
		{"leading run kept", "+1 Longsword", "_1_longsword"},
		{"both edges", "  (Potion) ", "_potion_"},
		{"diacritics unfolded", "Café", "caf_"},
		{"digits", "Level 3: +1 Sword", "level_3_1_sword"},
		{"empty", "", ""},
		{"nothing usable", "!!! ---", "_"},
		{"non latin", "火の玉 Fireball", "_fireball"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slug(tt.in))
		})
	}
}

func TestSlugFoldDiacritics(t *testing.T) {
	assert.Equal(t, "cafe", Slug("Café", FoldDiacritics()))
	assert.Equal(t, "elan_vital_name", Slug("Élan Vital Ñame", FoldDiacritics()))
	assert.Equal(t, "sword_magic_", Slug("Sword (Magic)", FoldDiacritics()))
}

func TestSlugIsIdempotent(t *testing.T) {
	for _, in := range []string{"Fire Bolt", "Élan", "a_b__c", "Sword (Magic)", "+1 Longsword"} {
		once := Slug(in)
		assert.Equal(t, once, Slug(once))
	}
}

func TestCanonicalID(t *testing.T) {
	id := CanonicalID("spell_", "Magic Missile")
	assert.Equal(t, doc.StringIDKind, id.Kind())
	assert.Equal(t, "spell_magic_missile", id.String())
	assert.Equal(t, "eq_sword_magic_", CanonicalID("eq_", "Sword (Magic)").String())
	assert.Equal(t, "eq_cafe", CanonicalID("eq_", "Café", FoldDiacritics()).String())

	assert.True(t, CanonicalID("spell_", "???").IsZero())
	assert.True(t, CanonicalID("spell_", "").IsZero())
}

func TestPlanCanonicalID(t *testing.T) {
	p := Plan{Prefix: "eq_"}
	assert.Equal(t, "eq_caf_", p.CanonicalID("Café").String())
	p.FoldDiacritics = true
	assert.Equal(t, "eq_cafe", p.CanonicalID("Café").String())
}
