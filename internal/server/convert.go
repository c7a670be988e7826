package server

import (
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/nainya/cfgstore/pkg/query"
	"github.com/nainya/cfgstore/pkg/setting"
	"github.com/nainya/cfgstore/pkg/snapshot"
)

func settingToWire(s *setting.Setting) *Setting {
	if s == nil {
		return nil
	}
	out := &Setting{
		Key:         s.Key,
		Label:       s.Label,
		Value:       s.Value,
		ContentType: s.ContentType,
		Tags:        s.Tags,
		ETag:        s.ETag,
		Locked:      s.ReadOnly,
	}
	if !s.LastModified.IsZero() {
		out.LastModified = timestamppb.New(s.LastModified)
	}
	return out
}

func settingsToWire(items []setting.Setting) []*Setting {
	out := make([]*Setting, len(items))
	for i := range items {
		out[i] = settingToWire(&items[i])
	}
	return out
}

func settingFromWire(s *Setting) setting.Setting {
	if s == nil {
		return setting.Setting{}
	}
	return setting.Setting{
		Key:         s.Key,
		Label:       s.Label,
		Value:       s.Value,
		ContentType: s.ContentType,
		Tags:        s.Tags,
	}
}

func timeFromWire(ts *timestamppb.Timestamp) (*time.Time, error) {
	if ts == nil {
		return nil, nil
	}
	if err := ts.CheckValid(); err != nil {
		return nil, setting.InvalidArgument("invalid timestamp: %v", err)
	}
	t := ts.AsTime()
	return &t, nil
}

func timeToWire(t *time.Time) *timestamppb.Timestamp {
	if t == nil || t.IsZero() {
		return nil
	}
	return timestamppb.New(*t)
}

func pageFromWire(p PageOptions) query.PageRequest {
	return query.PageRequest{PageSize: int(p.PageSize), After: p.After, IfNoneMatch: p.IfNoneMatch}
}

func pageStatus(notModified bool) int32 {
	if notModified {
		return 304
	}
	return 200
}

func settingFields(fields []string) ([]query.Field, error) {
	return query.ParseFields(strings.Join(fields, ","))
}

func snapshotFields(fields []string) ([]snapshot.Field, error) {
	return snapshot.ParseFields(strings.Join(fields, ","))
}

func selectorFromWire(req *ListSettingsRequest) (query.Selector, error) {
	asOf, err := timeFromWire(req.AcceptDatetime)
	if err != nil {
		return query.Selector{}, err
	}
	fields, err := settingFields(req.Fields)
	if err != nil {
		return query.Selector{}, err
	}
	return query.Selector{
		KeyFilter:      req.KeyFilter,
		LabelFilter:    req.LabelFilter,
		TagsFilter:     req.TagsFilter,
		AcceptDatetime: asOf,
		Fields:         fields,
	}, nil
}

func filtersFromWire(in []*KeyValueFilter) []snapshot.KeyValueFilter {
	out := make([]snapshot.KeyValueFilter, 0, len(in))
	for _, f := range in {
		if f == nil {
			continue
		}
		out = append(out, snapshot.KeyValueFilter{Key: f.Key, Label: f.Label, Tags: f.Tags})
	}
	return out
}

func specFromWire(req *CreateSnapshotRequest) snapshot.Spec {
	spec := snapshot.Spec{
		Filters:     filtersFromWire(req.Filters),
		Composition: snapshot.Composition(req.CompositionType),
		Tags:        req.Tags,
	}
	if req.RetentionPeriod != nil {
		spec.RetentionPeriod = req.RetentionPeriod.AsDuration()
	}
	return spec
}

func snapshotToWire(s *snapshot.Snapshot) *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Name:            s.Name,
		Status:          string(s.Status),
		CompositionType: string(s.Composition),
		ItemsCount:      int64(s.ItemCount),
		SizeInBytes:     s.SizeInBytes,
		CreatedAt:       timeToWire(&s.CreatedAt),
		ExpiresAt:       timeToWire(s.ExpiresAt),
		ETag:            s.ETag,
		Tags:            s.Tags,
	}
	if s.RetentionPeriod != 0 {
		out.RetentionPeriod = durationpb.New(s.RetentionPeriod)
	}
	for _, f := range s.Filters {
		out.Filters = append(out.Filters, &KeyValueFilter{Key: f.Key, Label: f.Label, Tags: f.Tags})
	}
	if s.Error != nil {
		out.Error = &ErrorDetail{Code: s.Error.Code, Message: s.Error.Message}
	}
	return out
}

func operationToWire(id string, res *snapshot.PollResult) *OperationResponse {
	out := &OperationResponse{
		ID:       id,
		Status:   string(res.Status),
		Snapshot: snapshotToWire(res.Snapshot),
	}
	if res.Error != nil {
		out.Error = &ErrorDetail{Code: res.Error.Code, Message: res.Error.Message}
	}
	return out
}

func statusesFromWire(in []string) ([]snapshot.Status, error) {
	out := make([]snapshot.Status, 0, len(in))
	for _, s := range in {
		st, err := snapshot.ParseStatus(s)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
