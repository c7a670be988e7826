// ABOUTME: Versioned setting store with optimistic concurrency control
// ABOUTME: Current state and the append-only revision log share MVCC tables

package setting

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	memdb "github.com/hashicorp/go-memdb"
)

// Journal persists revisions before they become visible. An error aborts
// the mutation.
type Journal interface {
	AppendRevision(rev *Revision) error
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used for LastModified.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithJournal makes every mutation write ahead to j.
func WithJournal(j Journal) Option {
	return func(s *Store) { s.journal = j }
}

// WithEventSink publishes committed changes to sink.
func WithEventSink(sink EventSink) Option {
	return func(s *Store) { s.sink = sink }
}

// Store holds settings and their revisions. It is safe for concurrent use:
// writers are serialized by the memdb write transaction, readers work on
// immutable views and never block.
type Store struct {
	db      *memdb.MemDB
	now     func() time.Time
	journal Journal
	sink    EventSink

	// guarded by the memdb writer lock
	last time.Time
	// held from commit until the event is handed to sink
	pubMu sync.Mutex

	seq       atomic.Uint64
	settings  atomic.Int64
	revisions atomic.Int64
}

// NewStore creates an empty store.
func NewStore(opts ...Option) (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("create settings db: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetJournal attaches a journal after recovery has replayed into the store.
func (s *Store) SetJournal(j Journal) {
	txn := s.db.Txn(true)
	defer txn.Abort()
	s.journal = j
}

// View opens a frozen read view.
func (s *Store) View() *View {
	return &View{txn: s.db.Txn(false)}
}

// Freeze blocks writers while fn runs and returns a view of the state at
// that instant. Nothing journaled before fn ran is missing from the view.
func (s *Store) Freeze(fn func()) *View {
	txn := s.db.Txn(true)
	defer txn.Abort()
	fn()
	return s.View()
}

// Add creates a setting, failing when (key, label) already exists.
func (s *Store) Add(ctx context.Context, in Setting) (*Setting, error) {
	return s.Put(ctx, in, Conditions{IfNoneMatch: Any})
}

// Put creates or replaces a setting subject to cond.
func (s *Store) Put(ctx context.Context, in Setting, cond Conditions) (*Setting, error) {
	if in.Key == "" {
		return nil, InvalidArgument("key must not be empty")
	}

	next := in.Clone()
	next.ReadOnly = false

	return s.mutate(ctx, in.Key, in.Label, cond, mutationPut, func(existing *Setting) (*Revision, error) {
		return &Revision{Setting: *next}, nil
	})
}

// Delete removes a setting and returns the removed state. A missing setting
// without an If-Match condition returns (nil, nil).
func (s *Store) Delete(ctx context.Context, key string, label *string, cond Conditions) (*Setting, error) {
	if key == "" {
		return nil, InvalidArgument("key must not be empty")
	}

	var deleted *Setting
	_, err := s.mutate(ctx, key, label, cond, mutationDelete, func(existing *Setting) (*Revision, error) {
		if existing == nil {
			return nil, nil
		}
		deleted = existing.Clone()
		return &Revision{Setting: *existing.Clone(), Deleted: true}, nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// SetReadOnly locks or unlocks a setting. Setting the bit to its current
// value returns the setting unchanged.
func (s *Store) SetReadOnly(ctx context.Context, key string, label *string, lock bool, cond Conditions) (*Setting, error) {
	if key == "" {
		return nil, InvalidArgument("key must not be empty")
	}

	var unchanged *Setting
	out, err := s.mutate(ctx, key, label, cond, mutationLock, func(existing *Setting) (*Revision, error) {
		if existing.ReadOnly == lock {
			unchanged = existing
			return nil, nil
		}
		next := existing.Clone()
		next.ReadOnly = lock
		return &Revision{Setting: *next}, nil
	})
	if err != nil {
		return nil, err
	}
	if unchanged != nil {
		return unchanged.Clone(), nil
	}
	return out, nil
}

// GetOptions control point reads.
type GetOptions struct {
	AcceptDatetime *time.Time
	IfNoneMatch    string
}

// Get returns the setting for (key, label), as of AcceptDatetime when set.
func (s *Store) Get(ctx context.Context, key string, label *string, opts GetOptions) (*Setting, error) {
	if key == "" {
		return nil, InvalidArgument("key must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	view := s.View()
	var (
		found *Setting
		err   error
	)
	if opts.AcceptDatetime != nil {
		found, err = view.GetAsOf(key, label, *opts.AcceptDatetime)
	} else {
		found, err = view.Get(key, label)
	}
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, NotFound("setting %q label %q not found", key, labelString(label))
	}
	if err := checkRead(found, opts.IfNoneMatch); err != nil {
		return nil, err
	}
	return found.Clone(), nil
}

// Stats returns the current sizes of the store.
func (s *Store) Stats() Stats {
	return Stats{
		Settings:  int(s.settings.Load()),
		Revisions: int(s.revisions.Load()),
		LastSeq:   s.seq.Load(),
	}
}

// mutate runs one atomic mutation of (key, label). build receives the current
// setting (nil when absent) once the gate has passed and returns the revision
// to append, or nil for a no-op.
func (s *Store) mutate(ctx context.Context, key string, label *string, cond Conditions, m mutation,
	build func(existing *Setting) (*Revision, error)) (*Setting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	obj, err := txn.First(tableSettings, indexID, ID(key, label))
	if err != nil {
		return nil, err
	}
	var existing *Setting
	if obj != nil {
		existing = &obj.(*Revision).Setting
	}

	if err := checkMutation(existing, cond, m, key, label); err != nil {
		return nil, err
	}

	rev, err := build(existing)
	if err != nil || rev == nil {
		return nil, err
	}

	rev.Seq = s.seq.Load() + 1
	rev.Setting.LastModified = s.tick()
	if !rev.Deleted {
		// tombstones keep the etag of the content they removed
		rev.Setting.ETag = computeETag(&rev.Setting)
	}

	if rev.Deleted {
		if err := txn.Delete(tableSettings, obj); err != nil {
			return nil, fmt.Errorf("delete current: %w", err)
		}
	} else if err := txn.Insert(tableSettings, rev); err != nil {
		return nil, fmt.Errorf("insert current: %w", err)
	}
	if err := txn.Insert(tableRevisions, rev); err != nil {
		return nil, fmt.Errorf("insert revision: %w", err)
	}

	if s.journal != nil {
		if err := s.journal.AppendRevision(rev); err != nil {
			return nil, fmt.Errorf("journal revision %d: %w", rev.Seq, err)
		}
	}

	// Commit releases the writer lock, so seq is published before it and
	// pubMu is taken before it to keep events in commit order.
	s.seq.Store(rev.Seq)
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	txn.Commit()
	s.revisions.Add(1)
	switch {
	case rev.Deleted:
		s.settings.Add(-1)
	case existing == nil:
		s.settings.Add(1)
	}

	s.publish(ctx, rev, m)
	return rev.Setting.Clone(), nil
}

// tick returns a strictly increasing UTC instant. Callers hold the writer lock.
func (s *Store) tick() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

// ApplyRevision inserts a journaled revision during recovery. Revisions are
// applied idempotently and may arrive out of order.
func (s *Store) ApplyRevision(rev *Revision) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	dup, err := txn.First(tableRevisions, indexSeq, seqKey(rev.Seq))
	if err != nil {
		return err
	}
	if dup != nil {
		return nil
	}
	if err := txn.Insert(tableRevisions, rev); err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}

	latest, err := latestRevision(txn, rev.Setting.ID())
	if err != nil {
		return err
	}
	cur, err := txn.First(tableSettings, indexID, rev.Setting.ID())
	if err != nil {
		return err
	}
	switch {
	case latest.Deleted && cur != nil:
		if err := txn.Delete(tableSettings, cur); err != nil {
			return err
		}
		s.settings.Add(-1)
	case latest.Deleted:
	case cur == nil:
		if err := txn.Insert(tableSettings, latest); err != nil {
			return err
		}
		s.settings.Add(1)
	case cur.(*Revision).Seq != latest.Seq:
		if err := txn.Insert(tableSettings, latest); err != nil {
			return err
		}
	}

	if rev.Seq > s.seq.Load() {
		s.seq.Store(rev.Seq)
	}
	if rev.Setting.LastModified.After(s.last) {
		s.last = rev.Setting.LastModified
	}
	s.revisions.Add(1)
	txn.Commit()
	return nil
}

// latestRevision returns the newest revision recorded for id. The caller has
// just inserted one, so the result is never nil.
func latestRevision(txn *memdb.Txn, id []byte) (*Revision, error) {
	from := append(append([]byte{}, id...), seqKey(^uint64(0))...)
	it, err := txn.ReverseLowerBound(tableRevisions, indexID, from)
	if err != nil {
		return nil, err
	}
	obj := it.Next()
	if obj == nil {
		return nil, fmt.Errorf("no revision for %x", id)
	}
	return obj.(*Revision), nil
}

// Revisions returns every revision in seq order.
func (s *Store) Revisions() ([]*Revision, error) {
	return s.View().Revisions()
}
