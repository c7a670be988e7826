// Package server implements the gRPC cfgstore service
package server

import (
	"context"
	"net/http"

	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/nainya/cfgstore/internal/logger"
	"github.com/nainya/cfgstore/internal/service"
	"github.com/nainya/cfgstore/pkg/query"
	"github.com/nainya/cfgstore/pkg/setting"
	"github.com/nainya/cfgstore/pkg/snapshot"
)

// Server implements ConfigurationServiceServer
type Server struct {
	svc *service.Service
	log *logger.Logger
}

var _ ConfigurationServiceServer = (*Server)(nil)

// NewServer creates a gRPC server over svc
func NewServer(svc *service.Service, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{svc: svc, log: log.GrpcLogger()}
}

// ========== Setting Operations ==========

func (s *Server) AddSetting(ctx context.Context, req *AddSettingRequest) (*SettingResponse, error) {
	if req.Setting == nil {
		return nil, toStatus(setting.InvalidArgument("setting is required"))
	}
	out, err := s.svc.AddSetting(ctx, settingFromWire(req.Setting))
	if err != nil {
		return nil, toStatus(err)
	}
	return &SettingResponse{Status: http.StatusOK, Setting: settingToWire(out)}, nil
}

func (s *Server) SetSetting(ctx context.Context, req *SetSettingRequest) (*SettingResponse, error) {
	if req.Setting == nil {
		return nil, toStatus(setting.InvalidArgument("setting is required"))
	}
	cond := setting.Conditions{IfMatch: req.IfMatch, IfNoneMatch: req.IfNoneMatch}
	out, err := s.svc.SetSetting(ctx, settingFromWire(req.Setting), cond)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SettingResponse{Status: http.StatusOK, Setting: settingToWire(out)}, nil
}

func (s *Server) GetSetting(ctx context.Context, req *GetSettingRequest) (*SettingResponse, error) {
	asOf, err := timeFromWire(req.AcceptDatetime)
	if err != nil {
		return nil, toStatus(err)
	}
	fields, err := settingFields(req.Fields)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := s.svc.GetSetting(ctx, req.Key, req.Label, setting.GetOptions{AcceptDatetime: asOf, IfNoneMatch: req.IfNoneMatch}, fields)
	if setting.KindOf(err) == setting.KindNotModified {
		return &SettingResponse{Status: http.StatusNotModified}, nil
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &SettingResponse{Status: http.StatusOK, Setting: settingToWire(out)}, nil
}

func (s *Server) DeleteSetting(ctx context.Context, req *DeleteSettingRequest) (*SettingResponse, error) {
	out, err := s.svc.DeleteSetting(ctx, req.Key, req.Label, setting.Conditions{IfMatch: req.IfMatch})
	if err != nil {
		return nil, toStatus(err)
	}
	if out == nil {
		return &SettingResponse{Status: http.StatusNoContent}, nil
	}
	return &SettingResponse{Status: http.StatusOK, Setting: settingToWire(out)}, nil
}

func (s *Server) SetReadOnly(ctx context.Context, req *SetReadOnlyRequest) (*SettingResponse, error) {
	out, err := s.svc.SetReadOnly(ctx, req.Key, req.Label, req.ReadOnly, setting.Conditions{IfMatch: req.IfMatch})
	if err != nil {
		return nil, toStatus(err)
	}
	return &SettingResponse{Status: http.StatusOK, Setting: settingToWire(out)}, nil
}

// ========== Query Operations ==========

func settingsPage(p *query.Page[setting.Setting]) *ListSettingsResponse {
	return &ListSettingsResponse{
		Status: pageStatus(p.NotModified),
		Items:  settingsToWire(p.Items),
		ETag:   p.ETag,
		Next:   p.Next,
	}
}

func (s *Server) ListSettings(ctx context.Context, req *ListSettingsRequest) (*ListSettingsResponse, error) {
	sel, err := selectorFromWire(req)
	if err != nil {
		return nil, toStatus(err)
	}
	p, err := s.svc.ListSettings(ctx, sel, pageFromWire(req.Page))
	if err != nil {
		return nil, toStatus(err)
	}
	return settingsPage(p), nil
}

func (s *Server) ListRevisions(ctx context.Context, req *ListSettingsRequest) (*ListSettingsResponse, error) {
	sel, err := selectorFromWire(req)
	if err != nil {
		return nil, toStatus(err)
	}
	p, err := s.svc.ListRevisions(ctx, sel, pageFromWire(req.Page))
	if err != nil {
		return nil, toStatus(err)
	}
	return settingsPage(p), nil
}

func (s *Server) ListLabels(ctx context.Context, req *ListLabelsRequest) (*ListLabelsResponse, error) {
	asOf, err := timeFromWire(req.AcceptDatetime)
	if err != nil {
		return nil, toStatus(err)
	}
	p, err := s.svc.ListLabels(ctx, query.LabelSelector{Name: req.NameFilter, AcceptDatetime: asOf}, pageFromWire(req.Page))
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &ListLabelsResponse{Status: pageStatus(p.NotModified), ETag: p.ETag, Next: p.Next}
	for _, l := range p.Items {
		resp.Items = append(resp.Items, &Label{Name: l.Name})
	}
	return resp, nil
}

// ========== Snapshot Operations ==========

func (s *Server) CreateSnapshot(ctx context.Context, req *CreateSnapshotRequest) (*OperationResponse, error) {
	poller, err := s.svc.CreateSnapshot(ctx, req.Name, specFromWire(req))
	if err != nil {
		return nil, toStatus(err)
	}
	res, err := poller.Poll(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return operationToWire(poller.ID(), res), nil
}

func (s *Server) GetOperation(ctx context.Context, req *GetOperationRequest) (*OperationResponse, error) {
	res, err := s.svc.Operation(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return operationToWire(req.ID, res), nil
}

func (s *Server) GetSnapshot(ctx context.Context, req *GetSnapshotRequest) (*SnapshotResponse, error) {
	fields, err := snapshotFields(req.Fields)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := s.svc.GetSnapshot(ctx, req.Name, fields)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SnapshotResponse{Snapshot: snapshotToWire(out)}, nil
}

func (s *Server) ListSnapshots(ctx context.Context, req *ListSnapshotsRequest) (*ListSnapshotsResponse, error) {
	fields, err := snapshotFields(req.Fields)
	if err != nil {
		return nil, toStatus(err)
	}
	statuses, err := statusesFromWire(req.Statuses)
	if err != nil {
		return nil, toStatus(err)
	}
	sel := snapshot.Selector{Name: req.NameFilter, Statuses: statuses, Fields: fields}
	p, err := s.svc.ListSnapshots(ctx, sel, pageFromWire(req.Page))
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &ListSnapshotsResponse{Status: pageStatus(p.NotModified), ETag: p.ETag, Next: p.Next}
	for i := range p.Items {
		resp.Items = append(resp.Items, snapshotToWire(&p.Items[i]))
	}
	return resp, nil
}

func (s *Server) ArchiveSnapshot(ctx context.Context, req *UpdateSnapshotRequest) (*SnapshotResponse, error) {
	out, err := s.svc.ArchiveSnapshot(ctx, req.Name, setting.Conditions{IfMatch: req.IfMatch})
	if err != nil {
		return nil, toStatus(err)
	}
	return &SnapshotResponse{Snapshot: snapshotToWire(out)}, nil
}

func (s *Server) RecoverSnapshot(ctx context.Context, req *UpdateSnapshotRequest) (*SnapshotResponse, error) {
	out, err := s.svc.RecoverSnapshot(ctx, req.Name, setting.Conditions{IfMatch: req.IfMatch})
	if err != nil {
		return nil, toStatus(err)
	}
	return &SnapshotResponse{Snapshot: snapshotToWire(out)}, nil
}

func (s *Server) ListSnapshotSettings(ctx context.Context, req *ListSnapshotSettingsRequest) (*ListSettingsResponse, error) {
	fields, err := settingFields(req.Fields)
	if err != nil {
		return nil, toStatus(err)
	}
	p, err := s.svc.ListSnapshotSettings(ctx, req.Name, fields, pageFromWire(req.Page))
	if err != nil {
		return nil, toStatus(err)
	}
	return settingsPage(p), nil
}

// ========== Health & Stats ==========

func (s *Server) Health(ctx context.Context, req *HealthRequest) (*HealthResponse, error) {
	st, err := s.svc.Stats()
	if err != nil {
		return nil, toStatus(err)
	}
	return &HealthResponse{Status: "healthy", Uptime: durationpb.New(st.Uptime)}, nil
}

func (s *Server) Stats(ctx context.Context, req *StatsRequest) (*StatsResponse, error) {
	st, err := s.svc.Stats()
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &StatsResponse{
		Settings:   int64(st.Settings),
		Revisions:  int64(st.Revisions),
		LastSeq:    st.LastSeq,
		Snapshots:  make(map[string]int64, len(st.Snapshots)),
		Operations: st.Operations,
	}
	for status, n := range st.Snapshots {
		resp.Snapshots[string(status)] = int64(n)
	}
	return resp, nil
}
