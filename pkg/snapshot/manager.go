// ABOUTME: Snapshot manager: creation as a long-running operation
// ABOUTME: Archive/recover transitions, frozen item listing and expiry purge

package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	memdb "github.com/hashicorp/go-memdb"
	"github.com/rs/zerolog"

	"github.com/nainya/cfgstore/pkg/query"
	"github.com/nainya/cfgstore/pkg/setting"
	"github.com/nainya/cfgstore/pkg/storage"
)

const (
	tableSnapshots = "snapshots"
	indexID        = "id"
	indexOperation = "operation"

	cursorSnapshots = "n"
	cursorItems     = "i"
)

// Journal persists snapshot records before they become visible.
type Journal interface {
	AppendSnapshot(rec *Record) error
}

// Limits bound what a snapshot may contain and how long it is kept.
type Limits struct {
	MaxFilters       int
	MaxItems         int
	MinRetention     time.Duration
	MaxRetention     time.Duration
	DefaultRetention time.Duration
}

// DefaultLimits returns the service defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxFilters:       3,
		MaxItems:         60000,
		MinRetention:     time.Hour,
		MaxRetention:     90 * 24 * time.Hour,
		DefaultRetention: 30 * 24 * time.Hour,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock used for creation and expiry times.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithJournal makes every snapshot change write ahead to j.
func WithJournal(j Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithLimits overrides DefaultLimits.
func WithLimits(l Limits) Option {
	return func(m *Manager) { m.limits = l }
}

// Manager owns every snapshot. It is safe for concurrent use.
type Manager struct {
	db      *memdb.MemDB
	store   query.Viewer
	now     func() time.Time
	journal Journal
	log     zerolog.Logger
	limits  Limits

	// guarded by the memdb writer lock
	version uint64

	wg      sync.WaitGroup
	mu      sync.Mutex
	waiters map[string]chan struct{}
}

func nameKey(name string) []byte {
	return storage.EncodeValues(storage.NewStringValue(name))
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableSnapshots: {
				Name: tableSnapshots,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:   indexID,
						Unique: true,
						Indexer: &storage.EncodedIndex{Encode: func(obj interface{}) ([]byte, error) {
							rec, ok := obj.(*Record)
							if !ok {
								return nil, fmt.Errorf("unexpected object %T", obj)
							}
							return nameKey(rec.Snapshot.Name), nil
						}},
					},
					indexOperation: {
						Name:    indexOperation,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "OperationID"},
					},
				},
			},
		},
	}
}

// NewManager creates a snapshot manager reading settings from store.
func NewManager(store query.Viewer, opts ...Option) (*Manager, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("create snapshot db: %w", err)
	}
	m := &Manager{
		db:      db,
		store:   store,
		now:     time.Now,
		log:     zerolog.Nop(),
		limits:  DefaultLimits(),
		waiters: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// SetJournal attaches a journal after recovery.
func (m *Manager) SetJournal(j Journal) {
	txn := m.db.Txn(true)
	defer txn.Abort()
	m.journal = j
}

// Close waits for running materializations.
func (m *Manager) Close() {
	m.wg.Wait()
}

func (m *Manager) validate(name string, spec Spec) (Spec, error) {
	if name == "" {
		return spec, setting.InvalidArgument("snapshot name must not be empty")
	}
	if len(spec.Filters) == 0 || len(spec.Filters) > m.limits.MaxFilters {
		return spec, setting.InvalidArgument("snapshot needs between 1 and %d filters, got %d", m.limits.MaxFilters, len(spec.Filters))
	}
	for i, f := range spec.Filters {
		if f.Key == "" {
			return spec, setting.InvalidArgument("filter %d: key filter must not be empty", i)
		}
		if _, err := query.ParseFilter(f.Key, false); err != nil {
			return spec, err
		}
		if _, err := query.ParseFilter(f.Label, true); err != nil {
			return spec, err
		}
		for _, tag := range f.Tags {
			if k, _, ok := strings.Cut(tag, "="); !ok || k == "" {
				return spec, setting.InvalidArgument("filter %d: tags filter %q must be name=value", i, tag)
			}
		}
	}
	switch spec.Composition {
	case "":
		spec.Composition = CompositionKey
	case CompositionKey, CompositionKeyLabel:
	default:
		return spec, setting.InvalidArgument("unknown composition %q", spec.Composition)
	}
	switch {
	case spec.RetentionPeriod == 0:
		spec.RetentionPeriod = m.limits.DefaultRetention
	case spec.RetentionPeriod < m.limits.MinRetention || spec.RetentionPeriod > m.limits.MaxRetention:
		return spec, setting.InvalidArgument("retention period %s must be between %s and %s",
			spec.RetentionPeriod, m.limits.MinRetention, m.limits.MaxRetention)
	}
	return spec, nil
}

// BeginCreate validates spec, freezes the current store view and starts
// materializing the snapshot in the background. The returned poller tracks
// the operation; abandoning it does not stop materialization.
func (m *Manager) BeginCreate(ctx context.Context, name string, spec Spec) (*Poller, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	spec, err := m.validate(name, spec)
	if err != nil {
		return nil, err
	}

	view := m.store.View()

	txn := m.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableSnapshots, indexID, nameKey(name))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, setting.Conflict("snapshot %q already exists", name)
	}

	rec := &Record{
		Snapshot: Snapshot{
			Name:            name,
			Filters:         spec.Filters,
			Composition:     spec.Composition,
			RetentionPeriod: spec.RetentionPeriod,
			Status:          StatusProvisioning,
			CreatedAt:       m.now().UTC(),
			Tags:            spec.Tags,
		},
		OperationID: uuid.NewString(),
	}
	rec.Snapshot = *rec.Snapshot.Clone()
	if err := m.write(txn, rec); err != nil {
		return nil, err
	}
	txn.Commit()

	done := make(chan struct{})
	m.mu.Lock()
	m.waiters[rec.OperationID] = done
	m.mu.Unlock()

	m.wg.Add(1)
	go m.materialize(rec.Snapshot.Clone(), rec.OperationID, view)

	m.log.Info().
		Str("snapshot", name).
		Str("operation", rec.OperationID).
		Str("composition", string(spec.Composition)).
		Int("filters", len(spec.Filters)).
		Msg("snapshot creation started")

	return &Poller{m: m, id: rec.OperationID, done: done}, nil
}

// write stamps rec with the next version and ETag, stores it and journals it.
// The caller commits.
func (m *Manager) write(txn *memdb.Txn, rec *Record) error {
	rec.Version = m.version + 1
	etag, err := setting.Hash(struct {
		Name    string
		Status  Status
		Items   int
		Size    int64
		Created int64
		Expires *time.Time
		Tags    map[string]string
		Version uint64
	}{rec.Snapshot.Name, rec.Snapshot.Status, rec.Snapshot.ItemCount, rec.Snapshot.SizeInBytes,
		rec.Snapshot.CreatedAt.UnixNano(), rec.Snapshot.ExpiresAt, rec.Snapshot.Tags, rec.Version})
	if err != nil {
		return err
	}
	rec.Snapshot.ETag = etag

	if rec.Purged {
		obj, err := txn.First(tableSnapshots, indexID, nameKey(rec.Snapshot.Name))
		if err != nil {
			return err
		}
		if obj != nil {
			if err := txn.Delete(tableSnapshots, obj); err != nil {
				return fmt.Errorf("delete snapshot: %w", err)
			}
		}
	} else if err := txn.Insert(tableSnapshots, rec); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	if m.journal != nil {
		if err := m.journal.AppendSnapshot(rec); err != nil {
			return fmt.Errorf("journal snapshot %q: %w", rec.Snapshot.Name, err)
		}
	}
	m.version = rec.Version
	return nil
}

func (m *Manager) materialize(snap *Snapshot, opID string, view *setting.View) {
	defer m.wg.Done()
	defer m.release(opID)

	start := time.Now()
	items, detail, err := compose(view, snap.Filters, snap.Composition, m.limits.MaxItems)
	if err != nil {
		detail = &ErrorDetail{Code: "InternalError", Message: err.Error()}
	}

	if err := m.finish(snap.Name, opID, items, detail); err != nil {
		m.log.Error().Err(err).Str("snapshot", snap.Name).Msg("snapshot could not be finalized")
		if detail == nil {
			detail = &ErrorDetail{Code: "InternalError", Message: err.Error()}
			if err := m.finish(snap.Name, opID, nil, detail); err != nil {
				m.log.Error().Err(err).Str("snapshot", snap.Name).Msg("snapshot failure could not be recorded")
			}
		}
		return
	}

	ev := m.log.Info()
	if detail != nil {
		ev = m.log.Warn().Str("code", detail.Code).Str("reason", detail.Message)
	}
	ev.Str("snapshot", snap.Name).
		Int("items", len(items)).
		Dur("duration", time.Since(start)).
		Msg("snapshot materialized")
}

func (m *Manager) finish(name, opID string, items []setting.Setting, detail *ErrorDetail) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	obj, err := txn.First(tableSnapshots, indexOperation, opID)
	if err != nil {
		return err
	}
	if obj == nil {
		return fmt.Errorf("operation %s for %q vanished", opID, name)
	}
	cur := obj.(*Record)
	if cur.Snapshot.Status != StatusProvisioning {
		return nil
	}

	next := &Record{Snapshot: *cur.Snapshot.Clone(), OperationID: cur.OperationID}
	if detail != nil {
		next.Snapshot.Status = StatusFailed
		next.Snapshot.Error = detail
	} else {
		next.Snapshot.Status = StatusReady
		next.Items = items
		next.Snapshot.ItemCount = len(items)
		for i := range items {
			next.Snapshot.SizeInBytes += settingSize(&items[i])
		}
	}
	if err := m.write(txn, next); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (m *Manager) release(opID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.waiters[opID]; ok {
		close(ch)
		delete(m.waiters, opID)
	}
}

// compose applies the filters over view. With CompositionKey later filters
// win, and within one filter the most recently modified label of a key wins.
// With CompositionKeyLabel later filters win per (key, label).
func compose(view *setting.View, filters []KeyValueFilter, comp Composition, maxItems int) ([]setting.Setting, *ErrorDetail, error) {
	chosen := make(map[string]*setting.Setting)
	for _, f := range filters {
		matched, err := query.Select(view, query.Selector{KeyFilter: f.Key, LabelFilter: f.Label, TagsFilter: f.Tags})
		if err != nil {
			return nil, nil, err
		}
		if comp == CompositionKeyLabel {
			for _, s := range matched {
				chosen[string(s.ID())] = s
			}
			continue
		}
		perKey := make(map[string]*setting.Setting)
		for _, s := range matched {
			if cur, ok := perKey[s.Key]; !ok || s.LastModified.After(cur.LastModified) {
				perKey[s.Key] = s
			}
		}
		for k, s := range perKey {
			chosen[k] = s
		}
	}

	if len(chosen) > maxItems {
		return nil, &ErrorDetail{
			Code:    "TooManyItems",
			Message: fmt.Sprintf("snapshot would hold %d items, the limit is %d", len(chosen), maxItems),
		}, nil
	}

	items := make([]setting.Setting, 0, len(chosen))
	for _, s := range chosen {
		items = append(items, *s)
	}
	sort.Slice(items, func(i, j int) bool { return bytes.Compare(items[i].ID(), items[j].ID()) < 0 })
	return items, nil, nil
}

func (m *Manager) lookup(txn *memdb.Txn, name string) (*Record, error) {
	if name == "" {
		return nil, setting.InvalidArgument("snapshot name must not be empty")
	}
	obj, err := txn.First(tableSnapshots, indexID, nameKey(name))
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, setting.NotFound("snapshot %q not found", name)
	}
	return obj.(*Record), nil
}

// Get returns a snapshot projected to fields.
func (m *Manager) Get(ctx context.Context, name string, fields []Field) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := m.lookup(m.db.Txn(false), name)
	if err != nil {
		return nil, err
	}
	out, err := project(&rec.Snapshot, fields)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Selector chooses snapshots to list.
type Selector struct {
	// Name uses the key filter grammar.
	Name     string
	Statuses []Status
	Fields   []Field
}

// List returns one page of snapshots in name order.
func (m *Manager) List(ctx context.Context, sel Selector, req query.PageRequest) (*query.Page[Snapshot], error) {
	nameFilter, err := query.ParseFilter(sel.Name, false)
	if err != nil {
		return nil, err
	}
	if _, err := project(&Snapshot{}, sel.Fields); err != nil {
		return nil, err
	}
	size, err := req.Size()
	if err != nil {
		return nil, err
	}
	after, err := query.DecodeCursor(cursorSnapshots, req.After)
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
	it, err := m.db.Txn(false).LowerBound(tableSnapshots, indexID, from)
	if err != nil {
		return nil, err
	}

	page := &query.Page[Snapshot]{}
	var (
		tags []string
		last string
	)
	for obj := it.Next(); obj != nil; obj = it.Next() {
		snap := &obj.(*Record).Snapshot
		if !nameFilter.MatchString(snap.Name) || !statusIn(snap.Status, sel.Statuses) {
			continue
		}
		if len(page.Items) == size {
			page.Next = query.EncodeCursor(cursorSnapshots, nameKey(last))
			break
		}
		out, _ := project(snap, sel.Fields)
		page.Items = append(page.Items, out)
		tags = append(tags, snap.ETag)
		last = snap.Name
	}
	return query.Finish(page, tags, req.IfNoneMatch), nil
}

func statusIn(s Status, set []Status) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// Archive moves a ready snapshot to archived and starts its retention
// countdown. Archiving an archived snapshot changes nothing.
func (m *Manager) Archive(ctx context.Context, name string, cond setting.Conditions) (*Snapshot, error) {
	return m.transition(ctx, name, cond, StatusArchived)
}

// Recover moves an archived snapshot back to ready. Recovering a ready
// snapshot changes nothing.
func (m *Manager) Recover(ctx context.Context, name string, cond setting.Conditions) (*Snapshot, error) {
	return m.transition(ctx, name, cond, StatusReady)
}

func (m *Manager) transition(ctx context.Context, name string, cond setting.Conditions, target Status) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn := m.db.Txn(true)
	defer txn.Abort()

	rec, err := m.lookup(txn, name)
	if err != nil {
		return nil, err
	}
	switch rec.Snapshot.Status {
	case StatusProvisioning, StatusFailed:
		return nil, setting.Conflict("snapshot %q is %s", name, rec.Snapshot.Status)
	}
	if cond.IfMatch != "" && cond.IfMatch != setting.Any && cond.IfMatch != rec.Snapshot.ETag {
		return nil, setting.PreconditionFailed("snapshot %q etag does not match", name)
	}
	if rec.Snapshot.Status == target {
		return rec.Snapshot.Clone(), nil
	}

	next := &Record{Snapshot: *rec.Snapshot.Clone(), Items: rec.Items, OperationID: rec.OperationID}
	next.Snapshot.Status = target
	if target == StatusArchived {
		expires := m.now().UTC().Add(rec.Snapshot.RetentionPeriod)
		next.Snapshot.ExpiresAt = &expires
	} else {
		next.Snapshot.ExpiresAt = nil
	}
	if err := m.write(txn, next); err != nil {
		return nil, err
	}
	txn.Commit()

	m.log.Info().Str("snapshot", name).Str("status", string(target)).Msg("snapshot status changed")
	return next.Snapshot.Clone(), nil
}

// ListSettings returns one page of the frozen items of a ready or archived
// snapshot, in (key, label) order.
func (m *Manager) ListSettings(ctx context.Context, name string, fields []query.Field, req query.PageRequest) (*query.Page[setting.Setting], error) {
	if _, err := query.Project(&setting.Setting{}, fields); err != nil {
		return nil, err
	}
	size, err := req.Size()
	if err != nil {
		return nil, err
	}
	after, err := query.DecodeCursor(cursorItems, req.After)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := m.lookup(m.db.Txn(false), name)
	if err != nil {
		return nil, err
	}
	switch rec.Snapshot.Status {
	case StatusProvisioning, StatusFailed:
		return nil, setting.Conflict("snapshot %q is %s", name, rec.Snapshot.Status)
	}

	start := 0
	if after != nil {
		start = sort.Search(len(rec.Items), func(i int) bool {
			return bytes.Compare(rec.Items[i].ID(), after) > 0
		})
	}

	page := &query.Page[setting.Setting]{}
	var tags []string
	for i := start; i < len(rec.Items); i++ {
		if len(page.Items) == size {
			page.Next = query.EncodeCursor(cursorItems, rec.Items[i-1].ID())
			break
		}
		s := &rec.Items[i]
		out, _ := query.Project(s, fields)
		page.Items = append(page.Items, out)
		tags = append(tags, s.ETag)
	}
	return query.Finish(page, tags, req.IfNoneMatch), nil
}

// PurgeExpired removes archived snapshots whose retention ended at or before
// now and returns how many were removed.
func (m *Manager) PurgeExpired(now time.Time) (int, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	it, err := txn.LowerBound(tableSnapshots, indexID, []byte{})
	if err != nil {
		return 0, err
	}
	var expired []*Record
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rec := obj.(*Record)
		if rec.Snapshot.Status == StatusArchived && rec.Snapshot.ExpiresAt != nil && !rec.Snapshot.ExpiresAt.After(now) {
			expired = append(expired, rec)
		}
	}
	for _, rec := range expired {
		gone := &Record{Snapshot: *rec.Snapshot.Clone(), OperationID: rec.OperationID, Purged: true}
		if err := m.write(txn, gone); err != nil {
			return 0, err
		}
	}
	txn.Commit()
	return len(expired), nil
}

// DefaultPurgeInterval is used by Janitor when interval is not positive.
const DefaultPurgeInterval = time.Minute

// Janitor purges expired snapshots every interval until ctx is done.
func (m *Manager) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.PurgeExpired(m.now().UTC())
			if err != nil {
				m.log.Error().Err(err).Msg("snapshot purge failed")
				continue
			}
			if n > 0 {
				m.log.Info().Int("purged", n).Msg("expired snapshots purged")
			}
		}
	}
}

// Restore applies a journaled record during recovery, keeping the newest
// version of each snapshot.
func (m *Manager) Restore(rec *Record) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	obj, err := txn.First(tableSnapshots, indexID, nameKey(rec.Snapshot.Name))
	if err != nil {
		return err
	}
	if rec.Version > m.version {
		m.version = rec.Version
	}
	if obj != nil && obj.(*Record).Version >= rec.Version {
		return nil
	}
	switch {
	case rec.Purged && obj != nil:
		if err := txn.Delete(tableSnapshots, obj); err != nil {
			return err
		}
	case rec.Purged:
	default:
		if err := txn.Insert(tableSnapshots, rec); err != nil {
			return err
		}
	}
	txn.Commit()
	return nil
}

// FailInterrupted marks snapshots left provisioning by a previous process as
// failed. Their frozen view died with that process.
func (m *Manager) FailInterrupted() (int, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	it, err := txn.LowerBound(tableSnapshots, indexID, []byte{})
	if err != nil {
		return 0, err
	}
	var stuck []*Record
	for obj := it.Next(); obj != nil; obj = it.Next() {
		if rec := obj.(*Record); rec.Snapshot.Status == StatusProvisioning {
			stuck = append(stuck, rec)
		}
	}
	for _, rec := range stuck {
		next := &Record{Snapshot: *rec.Snapshot.Clone(), OperationID: rec.OperationID}
		next.Snapshot.Status = StatusFailed
		next.Snapshot.Error = &ErrorDetail{Code: "Interrupted", Message: "the service restarted during creation"}
		if err := m.write(txn, next); err != nil {
			return 0, err
		}
	}
	txn.Commit()
	return len(stuck), nil
}

// Freeze blocks snapshot writers while fn runs and returns every record as
// of that instant.
func (m *Manager) Freeze(fn func()) ([]*Record, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()
	fn()
	return records(m.db.Txn(false))
}

// Records returns every stored snapshot record in name order.
func (m *Manager) Records() ([]*Record, error) {
	return records(m.db.Txn(false))
}

func records(txn *memdb.Txn) ([]*Record, error) {
	it, err := txn.LowerBound(tableSnapshots, indexID, []byte{})
	if err != nil {
		return nil, err
	}
	var out []*Record
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*Record))
	}
	return out, nil
}
