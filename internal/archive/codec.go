package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"

	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/store"
)

// DefaultMaxMemberSize bounds how much of a single member Decode inflates.
const DefaultMaxMemberSize = 512 << 20

// Codec encodes a store into an archive and decodes archives back.
type Codec struct {
	primary       string
	entryLike     func(name string) bool
	stripEntryIDs bool
	exclude       map[string]bool
	maxMemberSize int64
	now           func() time.Time
	log           zerolog.Logger
}

// Option configures a Codec.
type Option func(*Codec)

// WithPrimary names the standalone primary collection.
func WithPrimary(name string) Option {
	return func(c *Codec) { c.primary = name }
}

// WithEntryLike marks collections stored as arrays. Each pattern matches a
// name exactly, or as a suffix when it starts with "*".
func WithEntryLike(patterns ...string) Option {
	return func(c *Codec) {
		c.entryLike = func(name string) bool {
			for _, p := range patterns {
				if suffix, ok := strings.CutPrefix(p, "*"); ok {
					if strings.HasSuffix(name, suffix) {
						return true
					}
				} else if name == p {
					return true
				}
			}
			return false
		}
	}
}

// WithStripEntryIdentity drops identity from entry-like collections, the
// format older builds wrote.
func WithStripEntryIdentity(strip bool) Option {
	return func(c *Codec) { c.stripEntryIDs = strip }
}

// WithExclude skips collections during Encode.
func WithExclude(names ...string) Option {
	return func(c *Codec) {
		for _, n := range names {
			c.exclude[n] = true
		}
	}
}

// WithMaxMemberSize overrides DefaultMaxMemberSize.
func WithMaxMemberSize(n int64) Option {
	return func(c *Codec) { c.maxMemberSize = n }
}

// WithClock sets the time stamped on members and manifests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Codec) { c.log = l }
}

// New returns a Codec. The default primary collection is "bestiary" and
// names ending in "entries" are entry-like.
func New(opts ...Option) *Codec {
	c := &Codec{
		primary:       "bestiary",
		exclude:       map[string]bool{},
		maxMemberSize: DefaultMaxMemberSize,
		now:           time.Now,
		log:           zerolog.Nop(),
	}
	WithEntryLike("*entries")(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Primary returns the primary collection name.
func (c *Codec) Primary() string { return c.primary }

// PrimaryMember returns the primary member's file name.
func (c *Codec) PrimaryMember() string { return c.primary + Suffix }

// IsEntryLike reports whether name is stored as an array.
func (c *Codec) IsEntryLike(name string) bool { return c.entryLike(name) }

// Manifest summarizes an encoded archive.
type Manifest struct {
	CreatedAt   time.Time      `json:"created_at"`
	Collections map[string]int `json:"collections"`
	Documents   int            `json:"documents"`
	Size        int            `json:"size"`
	Digest      string         `json:"digest"`
}

// Encode snapshots every non-system collection of st into w.
func (c *Codec) Encode(ctx context.Context, st store.Store, w io.Writer) (*Manifest, error) {
	names, err := st.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	manifest := &Manifest{CreatedAt: c.now().UTC(), Collections: map[string]int{}}

	primaryDocs, err := st.Find(ctx, c.primary, nil)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.primary, err)
	}
	primary := make(doc.Array, 0, len(primaryDocs))
	for _, d := range primaryDocs {
		primary = append(primary, d.Embed(PrimaryIDField))
	}
	manifest.Collections[c.primary] = len(primary)

	data := doc.Object{}
	for _, name := range names {
		if name == c.primary || store.IsSystem(name) || c.exclude[name] {
			continue
		}
		docs, err := st.Find(ctx, name, nil)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		data[name+Suffix] = c.encodeCollection(name, docs)
		manifest.Collections[name] = len(docs)
	}

	var buf bytes.Buffer
	if err := c.writeContainer(&buf, primary, data); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	for _, n := range manifest.Collections {
		manifest.Documents += n
	}
	manifest.Size = buf.Len()
	manifest.Digest = doc.ArchiveDigest(buf.Bytes())

	if _, err := w.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("encode: write: %w", err)
	}

	c.log.Info().
		Int("collections", len(manifest.Collections)).
		Int("documents", manifest.Documents).
		Int("bytes", manifest.Size).
		Str("digest", manifest.Digest).
		Msg("archive encoded")
	return manifest, nil
}

func (c *Codec) encodeCollection(name string, docs []doc.Document) doc.Value {
	if c.entryLike(name) {
		entries := make(doc.Array, 0, len(docs))
		for _, d := range docs {
			if c.stripEntryIDs {
				entries = append(entries, d.Fields.Clone())
			} else {
				entries = append(entries, d.Embed(doc.FieldID))
			}
		}
		return entries
	}

	keyed := make(doc.Object, len(docs))
	for _, d := range docs {
		if d.ID.IsZero() {
			c.log.Warn().Str("collection", name).Msg("skipping document without identity in keyed collection")
			continue
		}
		keyed[d.ID.String()] = d.Fields.Clone()
	}
	return keyed
}

func (c *Codec) writeContainer(w io.Writer, primary doc.Array, data doc.Object) error {
	zw := zip.NewWriter(w)
	modified := c.now().UTC()

	members := []struct {
		name  string
		value doc.Value
	}{
		{c.PrimaryMember(), primary},
		{DataMember, data},
	}
	for _, m := range members {
		body, err := doc.MarshalValue(m.value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", m.name, err)
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     m.name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return fmt.Errorf("create %s: %w", m.name, err)
		}
		if _, err := fw.Write(body); err != nil {
			return fmt.Errorf("write %s: %w", m.name, err)
		}
	}
	return zw.Close()
}

// Decode parses an archive. input names the source in errors.
func (c *Codec) Decode(input string, data []byte) (*Archive, error) {
	zr, zerr := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if zerr == nil {
		return c.decodeContainer(input, zr)
	}

	v, jerr := doc.UnmarshalValue(data)
	if jerr == nil {
		if obj, ok := v.(doc.Object); ok {
			c.log.Info().Str("input", input).Msg("decoding legacy flat JSON archive")
			return c.decodeFlat(obj), nil
		}
		jerr = fmt.Errorf("top-level value is %s, not object", doc.Kind(v))
	}
	return nil, &FormatError{Input: input, ContainerErr: zerr, JSONErr: jerr}
}

func (c *Codec) decodeContainer(input string, zr *zip.Reader) (*Archive, error) {
	a := &Archive{Collections: map[string]*Collection{}}

	for _, f := range zr.File {
		switch f.Name {
		case c.PrimaryMember():
			v, err := c.readMember(f)
			if err != nil {
				return nil, &FormatError{Input: input, Member: f.Name, JSONErr: err}
			}
			arr, ok := v.(doc.Array)
			if !ok {
				return nil, &FormatError{Input: input, Member: f.Name,
					JSONErr: fmt.Errorf("expected array, got %s", doc.Kind(v))}
			}
			a.Primary = c.primaryCollection(arr)
		case DataMember:
			v, err := c.readMember(f)
			if err != nil {
				return nil, &FormatError{Input: input, Member: f.Name, JSONErr: err}
			}
			obj, ok := v.(doc.Object)
			if !ok {
				return nil, &FormatError{Input: input, Member: f.Name,
					JSONErr: fmt.Errorf("expected object, got %s", doc.Kind(v))}
			}
			a.Problems = append(a.Problems, c.addMembers(a, obj, false)...)
		default:
			c.log.Debug().Str("member", f.Name).Msg("ignoring unknown archive member")
		}
	}
	return a, nil
}

func (c *Codec) decodeFlat(obj doc.Object) *Archive {
	a := &Archive{Collections: map[string]*Collection{}, Legacy: true}
	if v, ok := obj[c.PrimaryMember()]; ok {
		if arr, isArr := v.(doc.Array); isArr {
			a.Primary = c.primaryCollection(arr)
		} else {
			a.Problems = append(a.Problems, &doc.ConversionError{
				Collection: c.primary, Key: c.PrimaryMember(),
				Reason: fmt.Sprintf("expected array, got %s", doc.Kind(v)),
			})
		}
	}
	a.Problems = append(a.Problems, c.addMembers(a, obj, true)...)
	return a
}

// addMembers decodes aggregate keys. In flat mode only keys carrying the
// suffix are collections and the primary key is skipped.
func (c *Codec) addMembers(a *Archive, obj doc.Object, flat bool) []error {
	var problems []error
	for _, key := range obj.SortedKeys() {
		if flat && (!strings.HasSuffix(key, Suffix) || key == c.PrimaryMember()) {
			continue
		}
		coll, err := memberCollection(key, obj[key])
		if err != nil {
			problems = append(problems, err)
			continue
		}
		if coll.Name == "" || !store.ValidCollection(coll.Name) {
			problems = append(problems, &doc.ConversionError{Collection: coll.Name, Key: key, Reason: "invalid collection name"})
			continue
		}
		a.Collections[coll.Name] = coll
	}
	return problems
}

func (c *Codec) primaryCollection(arr doc.Array) *Collection {
	return &Collection{Name: c.primary, Layout: Sequence, IDField: PrimaryIDField, Entries: arr}
}

var errMemberTooLarge = errors.New("member exceeds size limit")

func (c *Codec) readMember(f *zip.File) (doc.Value, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	body, err := io.ReadAll(io.LimitReader(rc, c.maxMemberSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.maxMemberSize {
		return nil, errMemberTooLarge
	}
	return doc.UnmarshalValue(body)
}

// ListMembers returns member names of a container, for diagnostics.
func ListMembers(data []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	slices.Sort(names)
	return names, nil
}
