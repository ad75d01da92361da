package integrity

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/grimoire/internal/codex"
	"github.com/roach88/grimoire/internal/doc"
)

// DuplicateRequest controls a duplicate search.
type DuplicateRequest struct {
	Collection string `json:"collection"`
	// Tolerate lists names allowed to repeat.
	Tolerate []string `json:"tolerate,omitempty"`
	// SkipContent disables the codex content search.
	SkipContent bool `json:"skip_content,omitempty"`
}

// DuplicateReport lists duplicate groups.
type DuplicateReport struct {
	RunID      string    `json:"run_id"`
	Collection string    `json:"collection"`
	Names      []Finding `json:"names"`
	Content    []Finding `json:"content"`
}

// Duplicates groups the collection's documents by case-sensitive name and
// the codex nodes by identical content.
func (s *Scanner) Duplicates(ctx context.Context, req DuplicateRequest) (*DuplicateReport, error) {
	if req.Collection == "" {
		req.Collection = s.layout.Entities
	}
	if err := s.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("duplicates: %w", err)
	}
	report := &DuplicateReport{
		RunID:      s.ids.Generate(),
		Collection: req.Collection,
		Names:      []Finding{},
		Content:    []Finding{},
	}

	docs, err := s.store.Find(ctx, req.Collection, nil, doc.FieldName)
	if err != nil {
		return nil, fmt.Errorf("duplicates: %w", err)
	}
	groups := map[string][]string{}
	var names []string
	for _, d := range docs {
		name, ok := d.Fields.GetString(doc.FieldName)
		if !ok || name == "" || slices.Contains(req.Tolerate, name) {
			continue
		}
		if _, seen := groups[name]; !seen {
			names = append(names, name)
		}
		groups[name] = append(groups[name], d.ID.String())
	}
	slices.Sort(names)
	for _, name := range names {
		if ids := groups[name]; len(ids) > 1 {
			report.Names = append(report.Names, Finding{
				Kind: KindDuplicateName, Collection: req.Collection, Name: name, IDs: ids,
			})
		}
	}

	if !req.SkipContent {
		tree, err := s.Tree(ctx)
		if err != nil {
			return nil, fmt.Errorf("duplicates: %w", err)
		}
		groups, err := ContentGroups(tree)
		if err != nil {
			return nil, fmt.Errorf("duplicates: %w", err)
		}
		for _, paths := range groups {
			report.Content = append(report.Content, Finding{
				Kind: KindDuplicateContent, Collection: s.layout.Codex, Paths: paths,
			})
		}
	}

	s.log.Info().
		Str("run_id", report.RunID).
		Str("collection", req.Collection).
		Int("name_groups", len(report.Names)).
		Int("content_groups", len(report.Content)).
		Msg("duplicate scan")
	return report, nil
}

// ContentGroups returns the paths of nodes whose non-empty content lists are
// identical, one group per distinct list seen at more than one path. The
// key is the canonical serialization of the whole list.
func ContentGroups(tree *codex.Node) ([][]string, error) {
	byKey := map[string][]string{}
	var keys []string
	var walkErr error
	tree.Walk(func(n *codex.Node) bool {
		if len(n.Content) == 0 || walkErr != nil {
			return walkErr == nil
		}
		key, err := doc.ContentKey(n.Content)
		if err != nil {
			walkErr = fmt.Errorf("content at %s: %w", n.PathString(), err)
			return false
		}
		if _, seen := byKey[key]; !seen {
			keys = append(keys, key)
		}
		byKey[key] = append(byKey[key], n.PathString())
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}

	var groups [][]string
	for _, key := range keys {
		if paths := byKey[key]; len(paths) > 1 {
			groups = append(groups, paths)
		}
	}
	return groups, nil
}
