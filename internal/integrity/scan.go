package integrity

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/roach88/grimoire/internal/codex"
	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/job"
	"github.com/roach88/grimoire/internal/query"
	"github.com/roach88/grimoire/internal/store"
)

// Scanner checks and repairs links between the codex and the entities.
type Scanner struct {
	store  store.Store
	layout Layout
	ids    job.IDGenerator
	log    zerolog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLayout overrides DefaultLayout.
func WithLayout(l Layout) Option {
	return func(s *Scanner) { s.layout = l }
}

// WithIDs sets the run ID generator.
func WithIDs(g job.IDGenerator) Option {
	return func(s *Scanner) { s.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scanner) { s.log = l }
}

// New returns a Scanner over st.
func New(st store.Store, opts ...Option) *Scanner {
	s := &Scanner{store: st, layout: DefaultLayout(), ids: job.UUIDv7Generator{}, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Layout returns the scanner's layout.
func (s *Scanner) Layout() Layout { return s.layout }

// Tree loads and builds the codex tree.
func (s *Scanner) Tree(ctx context.Context) (*codex.Node, error) {
	docs, err := s.store.Find(ctx, s.layout.Codex, nil)
	if err != nil {
		return nil, fmt.Errorf("load codex: %w", err)
	}
	return codex.Build(docs), nil
}

// Scan computes the integrity report and, with Apply, acts on it.
func (s *Scanner) Scan(ctx context.Context, req ScanRequest) (*Report, error) {
	if err := s.layout.Validate(); err != nil {
		return nil, err
	}
	if req.Orphans == "" {
		req.Orphans = OrphanDelete
	}
	if err := s.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	report := &Report{
		RunID:       s.ids.Generate(),
		Apply:       req.Apply,
		Orphans:     []Finding{},
		Unlinked:    []Finding{},
		BrokenLinks: []Finding{},
	}
	log := s.log.With().Str("run_id", report.RunID).Bool("apply", req.Apply).Logger()

	tree, err := s.Tree(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	expected := tree.ExpectedEntities()
	report.Expected = len(expected)
	report.Nodes = tree.Size()

	stored, err := s.store.Find(ctx, s.layout.Entities, nil)
	if err != nil {
		return nil, fmt.Errorf("scan: load %s: %w", s.layout.Entities, err)
	}
	report.Entities = len(stored)

	present := make(map[string]bool, len(stored))
	var (
		linked    []entityLinks
		orphanIDs []doc.Identity
	)
	for _, d := range stored {
		if d.ID.IsZero() {
			continue
		}
		present[d.ID.String()] = true
		name, _ := d.Name()
		if _, ok := expected[d.ID.String()]; !ok {
			report.Orphans = append(report.Orphans, Finding{
				Kind: KindOrphan, Collection: s.layout.Entities, ID: d.ID.String(), Name: name,
			})
			orphanIDs = append(orphanIDs, d.ID)
			continue
		}
		linked = append(linked, entityLinks{id: d.ID, name: name, fields: d.Fields})
	}

	unlinked := make([]string, 0)
	for id := range expected {
		if !present[id] {
			unlinked = append(unlinked, id)
		}
	}
	slices.Sort(unlinked)
	for _, id := range unlinked {
		report.Unlinked = append(report.Unlinked, Finding{
			Kind: KindUnlinked, Collection: s.layout.Entities, ID: id, Paths: expected[id],
		})
	}

	live, err := s.liveSets(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	for _, e := range linked {
		for _, lf := range s.layout.Links {
			v, ok := e.fields[lf.Field]
			if !ok {
				continue
			}
			if missing := missingLinks(v, live[lf.Collection]); len(missing) > 0 {
				report.BrokenLinks = append(report.BrokenLinks, Finding{
					Kind: KindBrokenLink, Collection: s.layout.Entities, ID: e.id.String(), Name: e.name,
					Field: lf.Field, Missing: missing,
				})
			}
		}
	}

	log.Info().
		Int("nodes", report.Nodes).
		Int("expected", report.Expected).
		Int("entities", report.Entities).
		Int("orphans", len(report.Orphans)).
		Int("unlinked", len(report.Unlinked)).
		Int("broken_links", len(report.BrokenLinks)).
		Msg("integrity scan")

	if !req.Apply {
		return report, nil
	}
	if err := s.apply(ctx, req, report, stored, orphanIDs); err != nil {
		return report, err
	}
	return report, nil
}

// liveSets loads the identity set of every link target collection once.
func (s *Scanner) liveSets(ctx context.Context) (map[string]map[string]bool, error) {
	out := map[string]map[string]bool{}
	for _, lf := range s.layout.Links {
		if _, ok := out[lf.Collection]; ok {
			continue
		}
		ids, err := store.IDSet(ctx, s.store, lf.Collection)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", lf.Collection, err)
		}
		set := make(map[string]bool, len(ids))
		for id := range ids {
			set[id.String()] = true
		}
		out[lf.Collection] = set
	}
	return out, nil
}

func (s *Scanner) apply(ctx context.Context, req ScanRequest, report *Report, stored []doc.Document, orphanIDs []doc.Identity) error {
	if len(report.Orphans) > 0 && report.Expected == 0 && req.Orphans == OrphanDelete && !req.AllowEmptyCodex {
		return ErrEmptyCodex
	}

	switch {
	case len(orphanIDs) == 0 || req.Orphans == OrphanKeep:
	case req.Orphans == OrphanDelete:
		n, err := s.store.DeleteMany(ctx, s.layout.Entities, query.IDIn{IDs: orphanIDs})
		if err != nil {
			return fmt.Errorf("scan: delete orphans: %w", err)
		}
		report.Actions.Deleted = n
	case req.Orphans == OrphanAdopt:
		n, err := s.adopt(ctx, report.Orphans)
		if err != nil {
			return fmt.Errorf("scan: adopt orphans: %w", err)
		}
		report.Actions.Adopted = n
	}

	if len(report.BrokenLinks) == 0 {
		return nil
	}
	byID := make(map[string]doc.Document, len(stored))
	for _, d := range stored {
		byID[d.ID.String()] = d
	}
	updated := map[string]doc.Object{}
	var order []string
	for _, f := range report.BrokenLinks {
		fields, ok := updated[f.ID]
		if !ok {
			fields = byID[f.ID].Fields.Clone()
			order = append(order, f.ID)
		}
		fields[f.Field] = StripLinks(fields[f.Field], f.Missing)
		updated[f.ID] = fields
		report.Actions.LinksStripped += len(f.Missing)
	}
	docs := make([]doc.Document, 0, len(order))
	for _, id := range order {
		docs = append(docs, doc.NewDocument(byID[id].ID, updated[id]))
	}
	res, err := s.store.ReplaceMany(ctx, s.layout.Entities, docs, false)
	if err != nil {
		return fmt.Errorf("scan: strip links: %w", err)
	}
	report.Actions.Updated = res.Modified

	s.log.Info().
		Str("run_id", report.RunID).
		Int("deleted", report.Actions.Deleted).
		Int("adopted", report.Actions.Adopted).
		Int("links_stripped", report.Actions.LinksStripped).
		Msg("integrity repairs applied")
	return nil
}

// adopt appends a statblock for every orphan to the adopt path. The adopt
// document is created with set-on-insert so an existing one is kept.
func (s *Scanner) adopt(ctx context.Context, orphans []Finding) (int, error) {
	root := doc.StringID(s.layout.AdoptPath[0])
	defaults := doc.NewObject(doc.O("title", doc.String("Uncategorized")))
	if _, err := s.store.SetOnInsert(ctx, s.layout.Codex, root, defaults); err != nil {
		return 0, err
	}

	docs, err := s.store.Find(ctx, s.layout.Codex, query.ByID(root))
	if err != nil {
		return 0, err
	}
	if len(docs) != 1 {
		return 0, fmt.Errorf("adopt document %s not found after creation", root)
	}

	blocks := make([]doc.Value, 0, len(orphans))
	for _, f := range orphans {
		blocks = append(blocks, codex.StatblockBlock(f.ID, f.Name))
	}
	fields := codex.AppendBlocks(docs[0].Fields, s.layout.AdoptPath[1:], blocks...)
	if _, err := s.store.ReplaceMany(ctx, s.layout.Codex, []doc.Document{doc.NewDocument(root, fields)}, false); err != nil {
		return 0, err
	}
	return len(blocks), nil
}
