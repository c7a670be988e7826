// Package service is the transport-neutral facade over the setting store,
// the query engine and the snapshot manager. The gRPC and REST surfaces both
// call it.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/nainya/cfgstore/internal/metrics"
	"github.com/nainya/cfgstore/pkg/query"
	"github.com/nainya/cfgstore/pkg/setting"
	"github.com/nainya/cfgstore/pkg/snapshot"
)

// PageLimits bound page sizes below the engine's hard maximum.
type PageLimits struct {
	Default int
	Max     int
}

// Service wires the domain packages together.
type Service struct {
	store   *setting.Store
	engine  *query.Engine
	snaps   *snapshot.Manager
	metrics *metrics.Metrics
	limits  PageLimits

	startTime time.Time
	mu        sync.Mutex
	opCounts  map[string]int64
}

// New creates a service. m may be nil.
func New(store *setting.Store, snaps *snapshot.Manager, m *metrics.Metrics, limits PageLimits) *Service {
	if limits.Default <= 0 {
		limits.Default = query.DefaultPageSize
	}
	if limits.Max <= 0 || limits.Max > query.MaxPageSize {
		limits.Max = query.MaxPageSize
	}
	return &Service{
		store:     store,
		engine:    query.NewEngine(store),
		snaps:     snaps,
		metrics:   m,
		limits:    limits,
		startTime: time.Now(),
		opCounts:  make(map[string]int64),
	}
}

// observe counts op and records its outcome.
func (s *Service) observe(op string, err error) {
	s.mu.Lock()
	s.opCounts[op]++
	s.mu.Unlock()
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = setting.KindOf(err).String()
	}
	s.metrics.RecordStoreOperation(op, outcome)
}

func (s *Service) page(req query.PageRequest) (query.PageRequest, error) {
	switch {
	case req.PageSize == 0:
		req.PageSize = s.limits.Default
	case req.PageSize < 0 || req.PageSize > s.limits.Max:
		return req, setting.InvalidArgument("page size %d must be between 1 and %d", req.PageSize, s.limits.Max)
	}
	return req, nil
}

func recordPage[T any](s *Service, op string, p *query.Page[T]) {
	if s.metrics != nil && p != nil {
		s.metrics.RecordPage(op, p.NotModified)
	}
}

// AddSetting creates a setting that must not exist yet.
func (s *Service) AddSetting(ctx context.Context, in setting.Setting) (*setting.Setting, error) {
	out, err := s.store.Add(ctx, in)
	s.observe("add", err)
	return out, err
}

// SetSetting creates or replaces a setting.
func (s *Service) SetSetting(ctx context.Context, in setting.Setting, cond setting.Conditions) (*setting.Setting, error) {
	out, err := s.store.Put(ctx, in, cond)
	s.observe("set", err)
	return out, err
}

// GetSetting reads one setting, projected to fields when given.
func (s *Service) GetSetting(ctx context.Context, key string, label *string, opts setting.GetOptions, fields []query.Field) (*setting.Setting, error) {
	out, err := s.store.Get(ctx, key, label, opts)
	s.observe("get", err)
	if err != nil || len(fields) == 0 {
		return out, err
	}
	projected, err := query.Project(out, fields)
	if err != nil {
		return nil, err
	}
	return &projected, nil
}

// DeleteSetting removes a setting; (nil, nil) means there was nothing to
// delete.
func (s *Service) DeleteSetting(ctx context.Context, key string, label *string, cond setting.Conditions) (*setting.Setting, error) {
	out, err := s.store.Delete(ctx, key, label, cond)
	s.observe("delete", err)
	return out, err
}

// SetReadOnly locks or unlocks a setting.
func (s *Service) SetReadOnly(ctx context.Context, key string, label *string, lock bool, cond setting.Conditions) (*setting.Setting, error) {
	out, err := s.store.SetReadOnly(ctx, key, label, lock, cond)
	s.observe("set_read_only", err)
	return out, err
}

// ListSettings returns one page of current (or as-of) settings.
func (s *Service) ListSettings(ctx context.Context, sel query.Selector, req query.PageRequest) (*query.Page[setting.Setting], error) {
	req, err := s.page(req)
	if err != nil {
		s.observe("list_settings", err)
		return nil, err
	}
	p, err := s.engine.List(ctx, sel, req)
	s.observe("list_settings", err)
	recordPage(s, "list_settings", p)
	return p, err
}

// ListRevisions returns one page of revisions, newest first.
func (s *Service) ListRevisions(ctx context.Context, sel query.Selector, req query.PageRequest) (*query.Page[setting.Setting], error) {
	req, err := s.page(req)
	if err != nil {
		s.observe("list_revisions", err)
		return nil, err
	}
	p, err := s.engine.ListRevisions(ctx, sel, req)
	s.observe("list_revisions", err)
	recordPage(s, "list_revisions", p)
	return p, err
}

// ListLabels returns one page of distinct labels.
func (s *Service) ListLabels(ctx context.Context, sel query.LabelSelector, req query.PageRequest) (*query.Page[query.Label], error) {
	req, err := s.page(req)
	if err != nil {
		s.observe("list_labels", err)
		return nil, err
	}
	p, err := s.engine.ListLabels(ctx, sel, req)
	s.observe("list_labels", err)
	recordPage(s, "list_labels", p)
	return p, err
}

// CreateSnapshot starts creating a snapshot.
func (s *Service) CreateSnapshot(ctx context.Context, name string, spec snapshot.Spec) (*snapshot.Poller, error) {
	p, err := s.snaps.BeginCreate(ctx, name, spec)
	s.observe("create_snapshot", err)
	return p, err
}

// Operation polls a snapshot creation once.
func (s *Service) Operation(ctx context.Context, id string) (*snapshot.PollResult, error) {
	poller, err := s.snaps.Operation(id)
	if err != nil {
		s.observe("get_operation", err)
		return nil, err
	}
	res, err := poller.Poll(ctx)
	s.observe("get_operation", err)
	return res, err
}

// GetSnapshot reads one snapshot.
func (s *Service) GetSnapshot(ctx context.Context, name string, fields []snapshot.Field) (*snapshot.Snapshot, error) {
	out, err := s.snaps.Get(ctx, name, fields)
	s.observe("get_snapshot", err)
	return out, err
}

// ListSnapshots returns one page of snapshots.
func (s *Service) ListSnapshots(ctx context.Context, sel snapshot.Selector, req query.PageRequest) (*query.Page[snapshot.Snapshot], error) {
	req, err := s.page(req)
	if err != nil {
		s.observe("list_snapshots", err)
		return nil, err
	}
	p, err := s.snaps.List(ctx, sel, req)
	s.observe("list_snapshots", err)
	recordPage(s, "list_snapshots", p)
	return p, err
}

// ArchiveSnapshot moves a ready snapshot to archived.
func (s *Service) ArchiveSnapshot(ctx context.Context, name string, cond setting.Conditions) (*snapshot.Snapshot, error) {
	out, err := s.snaps.Archive(ctx, name, cond)
	s.observe("archive_snapshot", err)
	return out, err
}

// RecoverSnapshot moves an archived snapshot back to ready.
func (s *Service) RecoverSnapshot(ctx context.Context, name string, cond setting.Conditions) (*snapshot.Snapshot, error) {
	out, err := s.snaps.Recover(ctx, name, cond)
	s.observe("recover_snapshot", err)
	return out, err
}

// ListSnapshotSettings returns one page of a snapshot's frozen items.
func (s *Service) ListSnapshotSettings(ctx context.Context, name string, fields []query.Field, req query.PageRequest) (*query.Page[setting.Setting], error) {
	req, err := s.page(req)
	if err != nil {
		s.observe("list_snapshot_settings", err)
		return nil, err
	}
	p, err := s.snaps.ListSettings(ctx, name, fields, req)
	s.observe("list_snapshot_settings", err)
	recordPage(s, "list_snapshot_settings", p)
	return p, err
}

// Stats describes the service.
type Stats struct {
	Settings   int
	Revisions  int
	LastSeq    uint64
	Snapshots  map[snapshot.Status]int
	Operations map[string]int64
	Uptime     time.Duration
}

// Stats returns current sizes and per-operation counts.
func (s *Service) Stats() (*Stats, error) {
	st := s.store.Stats()
	out := &Stats{
		Settings:   st.Settings,
		Revisions:  st.Revisions,
		LastSeq:    st.LastSeq,
		Snapshots:  make(map[snapshot.Status]int),
		Operations: make(map[string]int64),
		Uptime:     time.Since(s.startTime),
	}
	recs, err := s.snaps.Records()
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		out.Snapshots[rec.Snapshot.Status]++
	}
	s.mu.Lock()
	for op, n := range s.opCounts {
		out.Operations[op] = n
	}
	s.mu.Unlock()
	return out, nil
}

// RefreshGauges copies the current sizes into the metrics gauges.
func (s *Service) RefreshGauges() error {
	if s.metrics == nil {
		return nil
	}
	st, err := s.Stats()
	if err != nil {
		return err
	}
	byStatus := map[string]int{}
	for _, status := range []snapshot.Status{snapshot.StatusProvisioning, snapshot.StatusReady, snapshot.StatusArchived, snapshot.StatusFailed} {
		byStatus[string(status)] = st.Snapshots[status]
	}
	s.metrics.UpdateStoreStats(st.Settings, st.Revisions, byStatus)
	return nil
}

// RunGauges refreshes the gauges every interval until ctx ends.
func (s *Service) RunGauges(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_ = s.RefreshGauges()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
