package integrity

import (
	"errors"
	"fmt"
)

// FindingKind classifies a Finding.
type FindingKind string

const (
	KindOrphan           FindingKind = "orphan"
	KindUnlinked         FindingKind = "unlinked_statblock"
	KindBrokenLink       FindingKind = "broken_link"
	KindDuplicateName    FindingKind = "duplicate_name"
	KindDuplicateContent FindingKind = "duplicate_content"
)

// Finding is one integrity violation. Findings are data, never errors.
type Finding struct {
	Kind       FindingKind `json:"kind"`
	Collection string      `json:"collection,omitempty"`
	// ID is the offending document, or the referenced entity for unlinked
	// statblocks.
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	// Field and Missing describe a broken link.
	Field   string   `json:"field,omitempty"`
	Missing []string `json:"missing,omitempty"`
	// Paths lists codex paths involved.
	Paths []string `json:"paths,omitempty"`
	// IDs lists the members of a duplicate group.
	IDs []string `json:"ids,omitempty"`
}

// OrphanPolicy selects what apply mode does with orphans.
type OrphanPolicy string

const (
	// OrphanDelete removes orphaned entities.
	OrphanDelete OrphanPolicy = "delete"
	// OrphanAdopt files a statblock for each orphan under the adopt path.
	OrphanAdopt OrphanPolicy = "adopt"
	// OrphanKeep reports orphans and leaves them.
	OrphanKeep OrphanPolicy = "keep"
)

// ErrUnknownPolicy is returned by ParseOrphanPolicy.
var ErrUnknownPolicy = errors.New("unknown orphan policy")

// ParseOrphanPolicy parses a policy name; empty means OrphanDelete.
func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch p := OrphanPolicy(s); p {
	case "":
		return OrphanDelete, nil
	case OrphanDelete, OrphanAdopt, OrphanKeep:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// ScanRequest controls one scan.
type ScanRequest struct {
	Apply   bool         `json:"apply"`
	Orphans OrphanPolicy `json:"orphans"`
	// AllowEmptyCodex lets apply delete entities when the codex references
	// none of them.
	AllowEmptyCodex bool `json:"allow_empty_codex"`
}

// Actions counts writes made in apply mode.
type Actions struct {
	Deleted       int `json:"deleted"`
	Adopted       int `json:"adopted"`
	LinksStripped int `json:"links_stripped"`
	Updated       int `json:"updated"`
}

// Report is the outcome of a scan.
type Report struct {
	RunID    string `json:"run_id"`
	Apply    bool   `json:"apply"`
	Expected int    `json:"expected"`
	Entities int    `json:"entities"`
	Nodes    int    `json:"nodes"`

	Orphans     []Finding `json:"orphans"`
	Unlinked    []Finding `json:"unlinked"`
	BrokenLinks []Finding `json:"broken_links"`

	Actions Actions `json:"actions"`
}

// Clean reports whether the scan found nothing.
func (r *Report) Clean() bool {
	return len(r.Orphans) == 0 && len(r.Unlinked) == 0 && len(r.BrokenLinks) == 0
}

// Findings returns every finding in report order.
func (r *Report) Findings() []Finding {
	out := make([]Finding, 0, len(r.Orphans)+len(r.Unlinked)+len(r.BrokenLinks))
	out = append(out, r.Orphans...)
	out = append(out, r.Unlinked...)
	return append(out, r.BrokenLinks...)
}

// ErrEmptyCodex is returned when apply would delete every entity because
// the codex references none.
var ErrEmptyCodex = errors.New("codex references no entities; refusing to delete all of them")
