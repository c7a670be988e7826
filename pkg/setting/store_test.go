package setting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var ignoreVersion = cmpopts.IgnoreFields(Setting{}, "ETag", "LastModified")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := NewStore(opts...)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func TestAddThenGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := Setting{
		Key:         "app/color",
		Label:       String("prod"),
		Value:       String("blue"),
		ContentType: String("text/plain"),
		Tags:        map[string]string{"team": "web"},
	}
	added, err := s.Add(ctx, in)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if added.ETag == "" || added.LastModified.IsZero() {
		t.Fatalf("expected etag and timestamp, got %+v", added)
	}

	got, err := s.Get(ctx, "app/color", String("prod"), GetOptions{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if diff := cmp.Diff(in, *got, ignoreVersion); diff != "" {
		t.Errorf("setting mismatch (-want +got):\n%s", diff)
	}
	if got.ETag != added.ETag {
		t.Errorf("etag changed between add and get")
	}
}

func TestAddExistingFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, Setting{Key: "k", Value: String("v1")}); err != nil {
		t.Fatalf("first Add failed: %v", err)
	}
	_, err := s.Add(ctx, Setting{Key: "k", Value: String("v2")})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected PreconditionFailed, got %v", err)
	}
	if StatusCode(err) != 412 {
		t.Errorf("expected 412, got %d", StatusCode(err))
	}

	got, _ := s.Get(ctx, "k", nil, GetOptions{})
	if *got.Value != "v1" {
		t.Errorf("value changed to %q", *got.Value)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, Setting{Value: String("v")}); StatusCode(err) != 400 {
		t.Errorf("Add: expected 400, got %v", err)
	}
	if _, err := s.Put(ctx, Setting{}, Conditions{}); StatusCode(err) != 400 {
		t.Errorf("Put: expected 400, got %v", err)
	}
	if _, err := s.Get(ctx, "", nil, GetOptions{}); StatusCode(err) != 400 {
		t.Errorf("Get: expected 400, got %v", err)
	}
	if s.Stats().Revisions != 0 {
		t.Errorf("rejected requests must not append revisions")
	}
}

func TestNullLabelIsDistinct(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, Setting{Key: "k", Value: String("null")}); err != nil {
		t.Fatalf("Add null label: %v", err)
	}
	if _, err := s.Add(ctx, Setting{Key: "k", Label: String(""), Value: String("empty")}); err != nil {
		t.Fatalf("Add empty label: %v", err)
	}

	a, _ := s.Get(ctx, "k", nil, GetOptions{})
	b, _ := s.Get(ctx, "k", String(""), GetOptions{})
	if *a.Value != "null" || *b.Value != "empty" {
		t.Errorf("labels collided: %q %q", *a.Value, *b.Value)
	}
	if s.Stats().Settings != 2 {
		t.Errorf("expected 2 settings, got %d", s.Stats().Settings)
	}
}

func TestPutWithStaleETag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, _ := s.Put(ctx, Setting{Key: "k", Value: String("v1")}, Conditions{})
	second, err := s.Put(ctx, Setting{Key: "k", Value: String("v2")}, Conditions{IfMatch: first.ETag})
	if err != nil {
		t.Fatalf("Put with current etag failed: %v", err)
	}

	_, err = s.Put(ctx, Setting{Key: "k", Value: String("v3")}, Conditions{IfMatch: first.ETag})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected PreconditionFailed, got %v", err)
	}

	got, _ := s.Get(ctx, "k", nil, GetOptions{})
	if *got.Value != "v2" || got.ETag != second.ETag {
		t.Errorf("stale put mutated state: %+v", got)
	}
}

func TestPutIfMatchOnMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put(context.Background(), Setting{Key: "k"}, Conditions{IfMatch: Any})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected PreconditionFailed, got %v", err)
	}
}

func TestGetIfNoneMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	added, _ := s.Add(ctx, Setting{Key: "k", Value: String("v")})

	_, err := s.Get(ctx, "k", nil, GetOptions{IfNoneMatch: added.ETag})
	if !errors.Is(err, ErrNotModified) || StatusCode(err) != 304 {
		t.Fatalf("expected NotModified, got %v", err)
	}

	if _, err := s.Get(ctx, "k", nil, GetOptions{IfNoneMatch: "other"}); err != nil {
		t.Fatalf("expected body for differing etag, got %v", err)
	}

	_, err = s.Get(ctx, "missing", nil, GetOptions{})
	if !errors.Is(err, ErrNotFound) || StatusCode(err) != 404 {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDeleteMissingIsNoContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	deleted, err := s.Delete(ctx, "missing", nil, Conditions{})
	if err != nil || deleted != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", deleted, err)
	}
	if s.Stats().Revisions != 0 {
		t.Errorf("no-op delete appended a revision")
	}

	_, err = s.Delete(ctx, "missing", nil, Conditions{IfMatch: "abc"})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("expected PreconditionFailed with if-match on missing, got %v", err)
	}
}

func TestDeleteReturnsPriorState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	added, _ := s.Add(ctx, Setting{Key: "k", Value: String("v")})

	if _, err := s.Delete(ctx, "k", nil, Conditions{IfMatch: "stale"}); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected PreconditionFailed, got %v", err)
	}

	deleted, err := s.Delete(ctx, "k", nil, Conditions{IfMatch: added.ETag})
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if diff := cmp.Diff(added, deleted); diff != "" {
		t.Errorf("deleted state mismatch (-want +got):\n%s", diff)
	}
	if _, err := s.Get(ctx, "k", nil, GetOptions{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected NotFound after delete, got %v", err)
	}

	stats := s.Stats()
	if stats.Settings != 0 || stats.Revisions != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestReadOnlyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, Setting{Key: "locked", Value: String("v")}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	locked, err := s.SetReadOnly(ctx, "locked", nil, true, Conditions{})
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if !locked.ReadOnly {
		t.Fatal("expected read-only setting")
	}

	// read-only wins over a correct etag
	_, err = s.Delete(ctx, "locked", nil, Conditions{IfMatch: locked.ETag})
	if !errors.Is(err, ErrConflict) || StatusCode(err) != 409 {
		t.Fatalf("expected Conflict on delete, got %v", err)
	}
	_, err = s.Put(ctx, Setting{Key: "locked", Value: String("x")}, Conditions{IfMatch: "stale"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected Conflict before etag check, got %v", err)
	}

	again, err := s.SetReadOnly(ctx, "locked", nil, true, Conditions{})
	if err != nil || again.ETag != locked.ETag {
		t.Fatalf("idempotent lock changed the setting: %v %v", again, err)
	}

	if _, err := s.SetReadOnly(ctx, "locked", nil, false, Conditions{}); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if _, err := s.Delete(ctx, "locked", nil, Conditions{}); err != nil {
		t.Fatalf("delete after unlock failed: %v", err)
	}
}

func TestSetReadOnlyMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SetReadOnly(context.Background(), "missing", nil, true, Conditions{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestAcceptDatetimeResolvesRevision(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	var stamps []time.Time
	for _, v := range []string{"one", "two", "three"} {
		out, err := s.Put(ctx, Setting{Key: "k", Value: String(v)}, Conditions{})
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		stamps = append(stamps, out.LastModified)
		clock.Advance(time.Second)
	}

	for i, want := range []string{"one", "two", "three"} {
		at := stamps[i]
		got, err := s.Get(ctx, "k", nil, GetOptions{AcceptDatetime: &at})
		if err != nil {
			t.Fatalf("Get as of %v failed: %v", at, err)
		}
		if *got.Value != want {
			t.Errorf("as of revision %d: got %q, want %q", i, *got.Value, want)
		}
	}

	before := stamps[0].Add(-time.Millisecond)
	if _, err := s.Get(ctx, "k", nil, GetOptions{AcceptDatetime: &before}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected NotFound before first revision, got %v", err)
	}

	s.Delete(ctx, "k", nil, Conditions{})
	after := clock.Now().Add(time.Hour)
	if _, err := s.Get(ctx, "k", nil, GetOptions{AcceptDatetime: &after}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected NotFound after delete, got %v", err)
	}
}

func TestClockStrictlyIncreases(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	a, _ := s.Put(ctx, Setting{Key: "a"}, Conditions{})
	b, _ := s.Put(ctx, Setting{Key: "b"}, Conditions{})
	if !b.LastModified.After(a.LastModified) {
		t.Errorf("timestamps not increasing: %v then %v", a.LastModified, b.LastModified)
	}
}

func TestETagTracksContent(t *testing.T) {
	base := Setting{Key: "k", Value: String("v"), LastModified: time.Unix(100, 0)}
	same := base.Clone()
	if computeETag(&base) != computeETag(same) {
		t.Error("identical content must produce identical etags")
	}

	changed := base.Clone()
	changed.Value = String("w")
	if computeETag(&base) == computeETag(changed) {
		t.Error("different value must change the etag")
	}

	tagged := base.Clone()
	tagged.Tags = map[string]string{"a": "1", "b": "2"}
	retagged := base.Clone()
	retagged.Tags = map[string]string{"b": "2", "a": "1"}
	if computeETag(tagged) != computeETag(retagged) {
		t.Error("tag order must not affect the etag")
	}

	locked := base.Clone()
	locked.ReadOnly = true
	if computeETag(&base) == computeETag(locked) {
		t.Error("read-only bit must change the etag")
	}
}

func TestConcurrentIfMatchHasOneWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	added, _ := s.Add(ctx, Setting{Key: "race", Value: String("start")})

	const writers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Put(ctx, Setting{Key: "race", Value: String("writer")}, Conditions{IfMatch: added.ETag})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, ErrPreconditionFailed) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}
}

func TestConcurrentAddsKeepEveryRevision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const writers = 64
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Add(ctx, Setting{Key: fmt.Sprintf("k/%02d", i)}); err != nil {
				t.Errorf("add %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	revs, err := s.Revisions()
	if err != nil {
		t.Fatalf("revisions: %v", err)
	}
	if len(revs) != writers {
		t.Fatalf("expected %d revisions, got %d", writers, len(revs))
	}
	seen := make(map[uint64]bool)
	for _, rev := range revs {
		if seen[rev.Seq] {
			t.Errorf("seq %d assigned twice", rev.Seq)
		}
		seen[rev.Seq] = true
	}
	if got := s.Stats().LastSeq; got != writers {
		t.Errorf("expected last seq %d, got %d", writers, got)
	}
}

type failingJournal struct{}

func (failingJournal) AppendRevision(*Revision) error { return errors.New("disk full") }

func TestJournalFailureAborts(t *testing.T) {
	s := newTestStore(t, WithJournal(failingJournal{}))
	ctx := context.Background()

	if _, err := s.Add(ctx, Setting{Key: "k"}); err == nil {
		t.Fatal("expected journal error")
	}
	if _, err := s.Get(ctx, "k", nil, GetOptions{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("aborted write is visible: %v", err)
	}
	if s.Stats().Revisions != 0 {
		t.Errorf("aborted write appended a revision")
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	sink := &recordingSink{}
	s := newTestStore(t, WithEventSink(sink))
	ctx := context.Background()

	s.Add(ctx, Setting{Key: "k"})
	s.SetReadOnly(ctx, "k", nil, true, Conditions{})
	s.SetReadOnly(ctx, "k", nil, false, Conditions{})
	s.Delete(ctx, "k", nil, Conditions{})
	s.Add(ctx, Setting{Key: "k"})
	s.Add(ctx, Setting{Key: "k"}) // rejected, no event

	var got []EventType
	for _, ev := range sink.events {
		got = append(got, ev.Type)
	}
	want := []EventType{EventPut, EventLocked, EventUnlocked, EventDelete, EventPut}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	for i := 1; i < len(sink.events); i++ {
		if sink.events[i].Seq <= sink.events[i-1].Seq {
			t.Errorf("event seqs not increasing")
		}
	}
}

func TestApplyRevisionReplay(t *testing.T) {
	src := newTestStore(t)
	ctx := context.Background()

	src.Put(ctx, Setting{Key: "a", Value: String("1")}, Conditions{})
	src.Put(ctx, Setting{Key: "a", Value: String("2")}, Conditions{})
	src.Put(ctx, Setting{Key: "b", Value: String("x")}, Conditions{})
	src.Delete(ctx, "b", nil, Conditions{})

	revs, err := src.Revisions()
	if err != nil {
		t.Fatalf("Revisions failed: %v", err)
	}
	if len(revs) != 4 {
		t.Fatalf("expected 4 revisions, got %d", len(revs))
	}

	dst := newTestStore(t)
	// out of order and duplicated
	for _, i := range []int{3, 1, 0, 2, 1, 3} {
		if err := dst.ApplyRevision(revs[i]); err != nil {
			t.Fatalf("ApplyRevision failed: %v", err)
		}
	}

	if diff := cmp.Diff(src.Stats(), dst.Stats()); diff != "" {
		t.Errorf("stats mismatch (-src +dst):\n%s", diff)
	}
	got, err := dst.Get(ctx, "a", nil, GetOptions{})
	if err != nil || *got.Value != "2" {
		t.Errorf("expected latest value 2, got %v %v", got, err)
	}
	if _, err := dst.Get(ctx, "b", nil, GetOptions{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted setting resurrected: %v", err)
	}

	next, err := dst.Put(ctx, Setting{Key: "c"}, Conditions{})
	if err != nil {
		t.Fatalf("Put after replay failed: %v", err)
	}
	last := revs[len(revs)-1].Setting.LastModified
	if !next.LastModified.After(last) {
		t.Errorf("clock did not resume after replayed revisions")
	}
}

func TestConcurrentEventsFollowCommitOrder(t *testing.T) {
	sink := &recordingSink{}
	s := newTestStore(t, WithEventSink(sink))
	ctx := context.Background()

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Put(ctx, Setting{Key: "hot"}, Conditions{}); err != nil {
				t.Errorf("put: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(sink.events) != writers {
		t.Fatalf("expected %d events, got %d", writers, len(sink.events))
	}
	for i := 1; i < len(sink.events); i++ {
		if sink.events[i].Seq <= sink.events[i-1].Seq {
			t.Fatalf("event %d has seq %d after %d", i, sink.events[i].Seq, sink.events[i-1].Seq)
		}
	}
}
