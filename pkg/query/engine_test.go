package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nainya/cfgstore/pkg/setting"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore(t *testing.T) (*setting.Store, *stepClock) {
	t.Helper()
	clock := &stepClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store, err := setting.NewStore(setting.WithClock(clock.now))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, clock
}

func put(t *testing.T, store *setting.Store, key string, label *string, value string, tags map[string]string) *setting.Setting {
	t.Helper()
	s, err := store.Put(context.Background(), setting.Setting{
		Key: key, Label: label, Value: setting.String(value), Tags: tags,
	}, setting.Conditions{})
	if err != nil {
		t.Fatalf("Put %s: %v", key, err)
	}
	return s
}

func keys(items []setting.Setting) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		out = append(out, s.Key+"/"+s.LabelString())
	}
	return out
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	dev := setting.String("dev")
	put(t, store, "app/color", nil, "red", nil)
	put(t, store, "app/color", dev, "blue", map[string]string{"team": "ui"})
	put(t, store, "app/size", dev, "10", map[string]string{"team": "core"})
	put(t, store, "db/url", nil, "pg://", nil)
	put(t, store, "db/url", setting.String(""), "empty-label", nil)

	engine := NewEngine(store)
	tests := []struct {
		name string
		sel  Selector
		want []string
	}{
		{"all", Selector{}, []string{`app/color/\0`, "app/color/dev", "app/size/dev", `db/url/\0`, "db/url/"}},
		{"prefix", Selector{KeyFilter: "app/*"}, []string{`app/color/\0`, "app/color/dev", "app/size/dev"}},
		{"exact list", Selector{KeyFilter: "db/url,app/size"}, []string{"app/size/dev", `db/url/\0`, "db/url/"}},
		{"null label", Selector{LabelFilter: `\0`}, []string{`app/color/\0`, `db/url/\0`}},
		{"empty label", Selector{KeyFilter: "db/url", LabelFilter: ""}, []string{`db/url/\0`, "db/url/"}},
		{"label prefix", Selector{LabelFilter: "d*"}, []string{"app/color/dev", "app/size/dev"}},
		{"tags", Selector{TagsFilter: []string{"team=ui"}}, []string{"app/color/dev"}},
		{"no match", Selector{KeyFilter: "nope"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := engine.List(ctx, tt.sel, PageRequest{})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if diff := cmp.Diff(tt.want, keys(page.Items)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
			if page.Next != "" {
				t.Errorf("unexpected continuation %q", page.Next)
			}
		})
	}
}

func TestListRejectsBadFilterBeforeReading(t *testing.T) {
	engine := NewEngine(nil)
	for _, sel := range []Selector{{KeyFilter: "*x"}, {LabelFilter: "a*b"}, {TagsFilter: []string{"novalue"}}} {
		if _, err := engine.List(context.Background(), sel, PageRequest{}); setting.KindOf(err) != setting.KindInvalidArgument {
			t.Errorf("%+v: got %v", sel, err)
		}
	}
	if _, err := engine.List(context.Background(), Selector{}, PageRequest{PageSize: MaxPageSize + 1}); setting.KindOf(err) != setting.KindInvalidArgument {
		t.Errorf("oversized page: %v", err)
	}
}

func TestListPagination(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	for i := 0; i < 7; i++ {
		put(t, store, fmt.Sprintf("k%02d", i), nil, "v", nil)
	}
	engine := NewEngine(store)

	var got []string
	req := PageRequest{PageSize: 3}
	pages := 0
	for {
		page, err := engine.List(ctx, Selector{}, req)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		pages++
		got = append(got, keys(page.Items)...)
		if page.Next == "" {
			break
		}
		req.After = page.Next
	}
	if pages != 3 || len(got) != 7 {
		t.Fatalf("got %d pages, %d items", pages, len(got))
	}

	if _, err := engine.List(ctx, Selector{}, PageRequest{After: "!!"}); setting.KindOf(err) != setting.KindInvalidArgument {
		t.Errorf("malformed cursor: %v", err)
	}
	rev, _ := engine.ListRevisions(ctx, Selector{}, PageRequest{PageSize: 1})
	if _, err := engine.List(ctx, Selector{}, PageRequest{After: rev.Next}); setting.KindOf(err) != setting.KindInvalidArgument {
		t.Errorf("foreign cursor: %v", err)
	}
}

func TestPageETag(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	put(t, store, "a", nil, "1", nil)
	put(t, store, "b", nil, "2", nil)
	engine := NewEngine(store)

	first, err := engine.List(ctx, Selector{}, PageRequest{})
	if err != nil {
		t.Fatal(err)
	}

	same, err := engine.List(ctx, Selector{}, PageRequest{IfNoneMatch: first.ETag})
	if err != nil {
		t.Fatal(err)
	}
	if !same.NotModified || len(same.Items) != 0 || same.ETag != first.ETag {
		t.Errorf("unchanged page: %+v", same)
	}

	put(t, store, "b", nil, "3", nil)
	changed, err := engine.List(ctx, Selector{}, PageRequest{IfNoneMatch: first.ETag})
	if err != nil {
		t.Fatal(err)
	}
	if changed.NotModified || len(changed.Items) != 2 || changed.ETag == first.ETag {
		t.Errorf("changed page: %+v", changed)
	}
}

func TestPagesMatchConditions(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	for _, k := range []string{"a", "b", "c", "d"} {
		put(t, store, k, nil, "v", nil)
	}
	engine := NewEngine(store)

	var etags []string
	for page, err := range Pages[setting.Setting](ctx, engine.List, Selector{}, 2) {
		if err != nil {
			t.Fatal(err)
		}
		etags = append(etags, page.ETag)
	}
	if len(etags) != 2 {
		t.Fatalf("got %d pages", len(etags))
	}

	put(t, store, "d", nil, "changed", nil)
	var modified []bool
	sel := Selector{MatchConditions: etags}
	for page, err := range Pages[setting.Setting](ctx, engine.List, sel, 2) {
		if err != nil {
			t.Fatal(err)
		}
		modified = append(modified, !page.NotModified)
	}
	if diff := cmp.Diff([]bool{false, true}, modified); diff != "" {
		t.Errorf("modified pages (-want +got):\n%s", diff)
	}
}

func TestListAcceptDatetime(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	put(t, store, "a", nil, "v1", nil)
	b := put(t, store, "b", nil, "v1", nil)
	put(t, store, "a", nil, "v2", nil)
	if _, err := store.Delete(ctx, "b", nil, setting.Conditions{}); err != nil {
		t.Fatal(err)
	}
	put(t, store, "c", nil, "v1", nil)

	engine := NewEngine(store)
	at := b.LastModified
	page, err := engine.List(ctx, Selector{AcceptDatetime: &at}, PageRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{`a/\0`, `b/\0`}, keys(page.Items)); diff != "" {
		t.Fatalf("as-of keys (-want +got):\n%s", diff)
	}
	if *page.Items[0].Value != "v1" {
		t.Errorf("a as of b's creation = %q", *page.Items[0].Value)
	}

	now, err := engine.List(ctx, Selector{}, PageRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{`a/\0`, `c/\0`}, keys(now.Items)); diff != "" {
		t.Errorf("current keys (-want +got):\n%s", diff)
	}
}

func TestListRevisions(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	put(t, store, "a", nil, "v1", nil)
	put(t, store, "b", nil, "v1", nil)
	mid := put(t, store, "a", nil, "v2", nil)
	if _, err := store.Delete(ctx, "a", nil, setting.Conditions{}); err != nil {
		t.Fatal(err)
	}
	put(t, store, "a", nil, "v3", nil)

	engine := NewEngine(store)
	page, err := engine.ListRevisions(ctx, Selector{KeyFilter: "a"}, PageRequest{PageSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	var values []string
	for _, s := range page.Items {
		values = append(values, *s.Value)
	}
	if diff := cmp.Diff([]string{"v3", "v2"}, values); diff != "" {
		t.Errorf("first page (-want +got):\n%s", diff)
	}
	next, err := engine.ListRevisions(ctx, Selector{KeyFilter: "a"}, PageRequest{PageSize: 2, After: page.Next})
	if err != nil {
		t.Fatal(err)
	}
	if len(next.Items) != 1 || *next.Items[0].Value != "v1" || next.Next != "" {
		t.Errorf("second page: %+v", next)
	}

	at := mid.LastModified
	asOf, err := engine.ListRevisions(ctx, Selector{AcceptDatetime: &at}, PageRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(asOf.Items) != 3 {
		t.Errorf("revisions as of %v: %d", at, len(asOf.Items))
	}
}

func TestProjection(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	put(t, store, "a", setting.String("x"), "v", map[string]string{"t": "1"})
	engine := NewEngine(store)

	page, err := engine.List(ctx, Selector{Fields: []Field{FieldKey, FieldValue}}, PageRequest{})
	if err != nil {
		t.Fatal(err)
	}
	got := page.Items[0]
	want := setting.Setting{Key: "a", Value: setting.String("v")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("projection (-want +got):\n%s", diff)
	}

	full, _ := engine.List(ctx, Selector{}, PageRequest{})
	projected, _ := engine.List(ctx, Selector{Fields: []Field{FieldKey}}, PageRequest{})
	if full.ETag != projected.ETag {
		t.Error("page etag should not depend on projection")
	}
}

func TestListLabels(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	put(t, store, "a", nil, "v", nil)
	put(t, store, "a", setting.String("prod"), "v", nil)
	put(t, store, "b", setting.String("dev"), "v", nil)
	put(t, store, "c", setting.String("dev"), "v", nil)
	engine := NewEngine(store)

	names := func(p *Page[Label]) []string {
		var out []string
		for _, l := range p.Items {
			if l.Name == nil {
				out = append(out, `\0`)
			} else {
				out = append(out, *l.Name)
			}
		}
		return out
	}

	page, err := engine.ListLabels(ctx, LabelSelector{}, PageRequest{PageSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{`\0`, "dev"}, names(page)); diff != "" {
		t.Errorf("first page (-want +got):\n%s", diff)
	}
	rest, err := engine.ListLabels(ctx, LabelSelector{}, PageRequest{PageSize: 2, After: page.Next})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"prod"}, names(rest)); diff != "" {
		t.Errorf("second page (-want +got):\n%s", diff)
	}

	filtered, err := engine.ListLabels(ctx, LabelSelector{Name: "p*"}, PageRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"prod"}, names(filtered)); diff != "" {
		t.Errorf("filtered (-want +got):\n%s", diff)
	}
}
