// ABOUTME: Query engine over frozen store views
// ABOUTME: Lists settings, revisions and labels with filters and paging

package query

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/nainya/cfgstore/pkg/setting"
	"github.com/nainya/cfgstore/pkg/storage"
)

// Viewer opens frozen read views. *setting.Store implements it.
type Viewer interface {
	View() *setting.View
}

// Engine answers listing queries. Every call reads from a single view, so a
// page never mixes states from different instants.
type Engine struct {
	store Viewer
}

// NewEngine creates a query engine over store.
func NewEngine(store Viewer) *Engine {
	return &Engine{store: store}
}

// List returns one page of settings in (key, label) order.
func (e *Engine) List(ctx context.Context, sel Selector, req PageRequest) (*Page[setting.Setting], error) {
	c, err := compile(sel)
	if err != nil {
		return nil, err
	}
	size, err := req.Size()
	if err != nil {
		return nil, err
	}
	after, err := DecodeCursor(cursorSettings, req.After)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var from []byte
	if after != nil {
		from = storage.Successor(after)
	}

	page := &Page[setting.Setting]{}
	var (
		tags   []string
		lastID []byte
	)
	err = eachSetting(e.store.View(), c, from, func(s *setting.Setting) bool {
		if len(page.Items) == size {
			page.Next = EncodeCursor(cursorSettings, lastID)
			return false
		}
		page.Items = append(page.Items, c.project(s))
		tags = append(tags, s.ETag)
		lastID = s.ID()
		return true
	})
	if err != nil {
		return nil, err
	}
	return Finish(page, tags, req.IfNoneMatch), nil
}

// ListRevisions returns one page of revisions, newest first. Deletes are
// recorded in the log but not listed.
func (e *Engine) ListRevisions(ctx context.Context, sel Selector, req PageRequest) (*Page[setting.Setting], error) {
	c, err := compile(sel)
	if err != nil {
		return nil, err
	}
	size, err := req.Size()
	if err != nil {
		return nil, err
	}
	after, err := DecodeCursor(cursorRevisions, req.After)
	if err != nil {
		return nil, err
	}
	before := ^uint64(0)
	if after != nil {
		seq, err := decodeSeq(after)
		if err != nil {
			return nil, err
		}
		before = seq - 1
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	revs, err := e.store.View().RevisionsDesc(before)
	if err != nil {
		return nil, err
	}

	page := &Page[setting.Setting]{}
	var (
		tags    []string
		lastSeq uint64
	)
	for rev := range revs {
		if rev.Deleted || !c.visible(rev.Setting.LastModified) || !c.match(&rev.Setting) {
			continue
		}
		if len(page.Items) == size {
			page.Next = EncodeCursor(cursorRevisions, storage.EncodeValues(storage.NewUint64Value(lastSeq)))
			break
		}
		page.Items = append(page.Items, c.project(&rev.Setting))
		tags = append(tags, rev.Setting.ETag)
		lastSeq = rev.Seq
	}
	return Finish(page, tags, req.IfNoneMatch), nil
}

func decodeSeq(pos []byte) (uint64, error) {
	vals, err := storage.DecodeValues(pos)
	if err != nil || len(vals) != 1 || vals[0].Type != storage.TYPE_UINT64 || vals[0].U64 == 0 {
		return 0, setting.InvalidArgument("malformed continuation token")
	}
	return vals[0].U64, nil
}

// LabelSelector chooses labels.
type LabelSelector struct {
	// Name uses the label filter grammar.
	Name           string
	AcceptDatetime *time.Time
}

// Label is one distinct label. A nil Name is the null label.
type Label struct {
	Name *string `json:"name"`
}

// ListLabels returns one page of distinct labels in use, null label first.
func (e *Engine) ListLabels(ctx context.Context, sel LabelSelector, req PageRequest) (*Page[Label], error) {
	nameFilter, err := ParseFilter(sel.Name, true)
	if err != nil {
		return nil, err
	}
	size, err := req.Size()
	if err != nil {
		return nil, err
	}
	after, err := DecodeCursor(cursorLabels, req.After)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]*string)
	c := &compiled{key: Filter{Kind: FilterAll}, label: nameFilter, asOf: sel.AcceptDatetime}
	err = eachSetting(e.store.View(), c, nil, func(s *setting.Setting) bool {
		enc := string(storage.EncodeValues(storage.NewOptionalString(s.Label)))
		if _, ok := seen[enc]; !ok {
			seen[enc] = s.Label
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(seen))
	for enc := range seen {
		if after == nil || enc > string(after) {
			keys = append(keys, enc)
		}
	}
	sort.Strings(keys)

	page := &Page[Label]{}
	var tags []string
	for i, enc := range keys {
		if i == size {
			page.Next = EncodeCursor(cursorLabels, []byte(keys[i-1]))
			break
		}
		var name *string
		if l := seen[enc]; l != nil {
			name = setting.String(*l)
		}
		page.Items = append(page.Items, Label{Name: name})
		tags = append(tags, enc)
	}
	return Finish(page, tags, req.IfNoneMatch), nil
}

// Select returns every setting in view matching sel, unprojected, in
// (key, label) order.
func Select(view *setting.View, sel Selector) ([]*setting.Setting, error) {
	c, err := compile(sel)
	if err != nil {
		return nil, err
	}
	var out []*setting.Setting
	err = eachSetting(view, c, nil, func(s *setting.Setting) bool {
		out = append(out, s.Clone())
		return true
	})
	return out, err
}

func (c *compiled) visible(t time.Time) bool {
	return c.asOf == nil || !t.After(*c.asOf)
}

// keyRanges returns the identity prefixes covering the key filter, in scan
// order.
func keyRanges(f Filter) [][]byte {
	switch f.Kind {
	case FilterAll:
		return [][]byte{nil}
	case FilterPrefix:
		return [][]byte{setting.KeyPrefix(f.Prefix)}
	}
	out := make([][]byte, 0, len(f.Values))
	for _, v := range f.Values {
		out = append(out, storage.EncodeValues(storage.NewStringValue(v)))
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}

// eachSetting calls fn for every matching setting with identity >= from,
// stopping early when fn returns false.
func eachSetting(view *setting.View, c *compiled, from []byte, fn func(*setting.Setting) bool) error {
	for _, prefix := range keyRanges(c.key) {
		var (
			more bool
			err  error
		)
		if c.asOf == nil {
			more, err = eachCurrent(view, c, from, prefix, fn)
		} else {
			more, err = eachAsOf(view, c, from, prefix, fn)
		}
		if err != nil || !more {
			return err
		}
	}
	return nil
}

func eachCurrent(view *setting.View, c *compiled, from, prefix []byte, fn func(*setting.Setting) bool) (bool, error) {
	settings, err := view.Current(from, prefix)
	if err != nil {
		return false, err
	}
	for s := range settings {
		if c.match(s) && !fn(s) {
			return false, nil
		}
	}
	return true, nil
}

// eachAsOf reconstructs each identity from its history: the newest revision
// at or before the instant, skipped when it is a delete.
func eachAsOf(view *setting.View, c *compiled, from, prefix []byte, fn func(*setting.Setting) bool) (bool, error) {
	history, err := view.History(from, prefix)
	if err != nil {
		return false, err
	}

	var (
		curID []byte
		best  *setting.Revision
	)
	emit := func() bool {
		if best == nil || best.Deleted || !c.match(&best.Setting) {
			return true
		}
		return fn(&best.Setting)
	}
	for rev := range history {
		id := rev.Setting.ID()
		if !bytes.Equal(id, curID) {
			if !emit() {
				return false, nil
			}
			curID, best = id, nil
		}
		if c.visible(rev.Setting.LastModified) {
			best = rev
		}
	}
	return emit(), nil
}
