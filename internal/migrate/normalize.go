package migrate

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/store"
)

// Normalizer runs normalization plans against a store.
type Normalizer struct {
	store store.Store
	log   zerolog.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(n *Normalizer) { n.log = l }
}

// New returns a Normalizer over st.
func New(st store.Store, opts ...Option) *Normalizer {
	n := &Normalizer{store: st, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Result summarizes one plan.
type Result struct {
	Plan string `json:"plan"`
	// Map holds every identity that changed.
	Map Map `json:"map"`
	// Merged is the size of the canonical set.
	Merged int `json:"merged"`
	// Deleted counts documents removed from the sources.
	Deleted int `json:"deleted"`
	// Written counts documents written to the target.
	Written int `json:"written"`
	// Collisions counts documents overwritten by a later source.
	Collisions int `json:"collisions"`
	// Unnamed counts documents kept under their own identity because they
	// have no usable name.
	Unnamed int `json:"unnamed"`
	// Relinked counts dependent documents whose links were rewritten.
	Relinked int `json:"relinked"`
}

// Changed reports whether the plan wrote anything.
func (r *Result) Changed() bool {
	return r.Written > 0 || r.Deleted > 0 || r.Relinked > 0
}

// merged is the canonical set in first-seen order.
type merged struct {
	order []string
	docs  map[string]doc.Document
	// anonymous documents carry no identity and cannot collide.
	anonymous []doc.Document
}

func (m *merged) put(d doc.Document) (collided bool) {
	if d.ID.IsZero() {
		m.anonymous = append(m.anonymous, d)
		return false
	}
	key := d.ID.String()
	if _, ok := m.docs[key]; ok {
		collided = true
	} else {
		m.order = append(m.order, key)
	}
	m.docs[key] = d
	return collided
}

func (m *merged) all() []doc.Document {
	out := make([]doc.Document, 0, len(m.order)+len(m.anonymous))
	for _, k := range m.order {
		out = append(out, m.docs[k])
	}
	return append(out, m.anonymous...)
}

// Normalize merges the plan's sources by canonical identity, replaces them
// with the canonical set in the target and rewrites dependent links.
func (n *Normalizer) Normalize(ctx context.Context, plan Plan) (*Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if err := n.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("normalize %s: %w", plan.Name, err)
	}

	log := n.log.With().Str("plan", plan.Name).Str("target", plan.Target).Logger()
	res := &Result{Plan: plan.Name, Map: Map{}}
	set := &merged{docs: map[string]doc.Document{}}
	foreign := 0

	for _, source := range plan.sources() {
		docs, err := n.store.Find(ctx, source, nil)
		if err != nil {
			return nil, fmt.Errorf("normalize %s: read %s: %w", plan.Name, source, err)
		}
		if source != plan.Target {
			foreign += len(docs)
		}
		for _, d := range docs {
			canonical := d
			name, ok := d.Name()
			if id := plan.CanonicalID(name); ok && !id.IsZero() {
				canonical = doc.NewDocument(id, d.Fields)
				if !d.ID.IsZero() && d.ID != id {
					res.Map[d.ID.String()] = id
				}
			} else {
				res.Unnamed++
				log.Debug().Str("source", source).Str("id", d.ID.String()).Msg("document has no usable name; keeping identity")
			}
			if set.put(canonical) {
				res.Collisions++
			}
		}
	}

	canonical := set.all()
	res.Merged = len(canonical)

	if len(res.Map) == 0 && foreign == 0 && res.Collisions == 0 {
		log.Debug().Msg("target already canonical")
	} else {
		for _, source := range plan.sources() {
			deleted, err := n.store.DeleteMany(ctx, source, nil)
			if err != nil {
				return res, fmt.Errorf("normalize %s: clear %s: %w", plan.Name, source, err)
			}
			res.Deleted += deleted
		}
		written, err := n.store.InsertMany(ctx, plan.Target, canonical)
		if err != nil {
			return res, fmt.Errorf("normalize %s: write %s: %w", plan.Name, plan.Target, err)
		}
		res.Written = written
	}

	relinked, err := n.RewriteLinks(ctx, res.Map, plan.Dependents)
	res.Relinked = relinked
	if err != nil {
		return res, fmt.Errorf("normalize %s: %w", plan.Name, err)
	}

	log.Info().
		Int("merged", res.Merged).
		Int("mapped", len(res.Map)).
		Int("deleted", res.Deleted).
		Int("written", res.Written).
		Int("relinked", res.Relinked).
		Msg("normalization complete")
	return res, nil
}

// RewriteLinks rewrites the link fields of every dependent document through
// m, folds legacy link fields into the live field and replaces documents
// whose content changed. It returns the number of documents replaced.
func (n *Normalizer) RewriteLinks(ctx context.Context, m Map, deps []Dependent) (int, error) {
	total := 0
	for _, dep := range deps {
		docs, err := n.store.Find(ctx, dep.Collection, nil)
		if err != nil {
			return total, fmt.Errorf("rewrite links %s: %w", dep.Collection, err)
		}

		var changed []doc.Document
		for _, d := range docs {
			fields, ok := rewriteDocument(d.Fields, m, dep)
			if !ok {
				continue
			}
			if d.ID.IsZero() {
				n.log.Warn().Str("collection", dep.Collection).Msg("cannot rewrite links of document without identity")
				continue
			}
			changed = append(changed, doc.NewDocument(d.ID, fields))
		}
		if len(changed) == 0 {
			continue
		}
		if _, err := n.store.ReplaceMany(ctx, dep.Collection, changed, false); err != nil {
			return total, fmt.Errorf("rewrite links %s: %w", dep.Collection, err)
		}
		total += len(changed)
		n.log.Info().Str("collection", dep.Collection).Int("documents", len(changed)).Msg("links rewritten")
	}
	return total, nil
}

// rewriteDocument returns the rewritten fields and whether they differ from
// the input.
func rewriteDocument(fields doc.Object, m Map, dep Dependent) (doc.Object, bool) {
	out := fields.Clone()

	live, hasLive := out[dep.LinkField]
	for _, legacy := range dep.LegacyLinkFields {
		v, ok := out[legacy]
		if !ok {
			continue
		}
		delete(out, legacy)
		if !hasLive {
			live, hasLive = v, true
			continue
		}
		live = mergeLinks(live, v)
	}
	if hasLive {
		out[dep.LinkField] = rewriteLinks(live, m)
	}

	if doc.Equal(fields, out) {
		return fields, false
	}
	return out, true
}

// rewriteLinks maps every identity string in a link value. Arrays are
// de-duplicated in order; level-keyed objects are rewritten per level.
func rewriteLinks(v doc.Value, m Map) doc.Value {
	switch val := v.(type) {
	case doc.String:
		return doc.String(m.Resolve(string(val)))
	case doc.Array:
		out := make(doc.Array, 0, len(val))
		seen := map[string]bool{}
		for _, el := range val {
			el = rewriteLinks(el, m)
			if s, ok := el.(doc.String); ok {
				if seen[string(s)] {
					continue
				}
				seen[string(s)] = true
			}
			out = append(out, el)
		}
		return out
	case doc.Object:
		out := make(doc.Object, len(val))
		for k, el := range val {
			out[k] = rewriteLinks(el, m)
		}
		return out
	default:
		return v
	}
}

// mergeLinks folds a legacy link value into the live one. Matching shapes
// merge element- or level-wise; mismatched shapes flatten into one array.
func mergeLinks(live, legacy doc.Value) doc.Value {
	switch l := live.(type) {
	case doc.Array:
		if g, ok := legacy.(doc.Array); ok {
			return append(slices.Clone(l), g...)
		}
	case doc.Object:
		if g, ok := legacy.(doc.Object); ok {
			out := l.Clone()
			for _, k := range g.SortedKeys() {
				out[k] = mergeLinks(orEmpty(out[k]), g[k])
			}
			return out
		}
	}
	return append(flatten(live), flatten(legacy)...)
}

func orEmpty(v doc.Value) doc.Value {
	if v == nil {
		return doc.Array{}
	}
	return v
}

// flatten lists the link values of v, visiting levels in key order.
func flatten(v doc.Value) doc.Array {
	switch val := v.(type) {
	case nil, doc.Null:
		return nil
	case doc.Array:
		return slices.Clone(val)
	case doc.Object:
		var out doc.Array
		for _, k := range val.SortedKeys() {
			out = append(out, flatten(val[k])...)
		}
		return out
	default:
		if s, ok := val.(doc.String); ok && strings.TrimSpace(string(s)) == "" {
			return nil
		}
		return doc.Array{val}
	}
}
