// ABOUTME: Snapshot types: frozen, named collections of settings
// ABOUTME: Status lifecycle is provisioning -> ready|failed, ready <-> archived

package snapshot

import (
	"strings"
	"time"

	"github.com/nainya/cfgstore/pkg/setting"
)

// Status is the lifecycle state of a snapshot.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusReady        Status = "ready"
	StatusArchived     Status = "archived"
	StatusFailed       Status = "failed"
)

// Terminal reports whether materialization has finished.
func (s Status) Terminal() bool {
	return s != StatusProvisioning
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusProvisioning, StatusReady, StatusArchived, StatusFailed:
		return st, nil
	}
	return "", setting.InvalidArgument("unknown snapshot status %q", s)
}

// Composition decides how settings selected by several filters collapse.
type Composition string

const (
	// CompositionKey keeps one setting per key.
	CompositionKey Composition = "key"
	// CompositionKeyLabel keeps one setting per (key, label).
	CompositionKeyLabel Composition = "key_label"
)

// KeyValueFilter selects settings for a snapshot using the listing filter
// grammar. An empty Label selects every label.
type KeyValueFilter struct {
	Key   string   `msgpack:"key" json:"key"`
	Label string   `msgpack:"label" json:"label,omitempty"`
	Tags  []string `msgpack:"tags" json:"tags,omitempty"`
}

// ErrorDetail explains why a snapshot failed.
type ErrorDetail struct {
	Code    string `msgpack:"code" json:"code"`
	Message string `msgpack:"message" json:"message"`
}

// Spec is the caller-supplied definition of a new snapshot.
type Spec struct {
	Filters         []KeyValueFilter
	Composition     Composition
	RetentionPeriod time.Duration
	Tags            map[string]string
}

// Snapshot is the metadata of a snapshot. Items are held separately.
type Snapshot struct {
	Name            string            `msgpack:"name"`
	Filters         []KeyValueFilter  `msgpack:"filters"`
	Composition     Composition       `msgpack:"composition"`
	RetentionPeriod time.Duration     `msgpack:"retention_period"`
	Status          Status            `msgpack:"status"`
	ItemCount       int               `msgpack:"item_count"`
	SizeInBytes     int64             `msgpack:"size_in_bytes"`
	CreatedAt       time.Time         `msgpack:"created_at"`
	ExpiresAt       *time.Time        `msgpack:"expires_at"`
	ETag            string            `msgpack:"etag"`
	Tags            map[string]string `msgpack:"tags"`
	Error           *ErrorDetail      `msgpack:"error"`
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() *Snapshot {
	out := *s
	out.Filters = make([]KeyValueFilter, len(s.Filters))
	for i, f := range s.Filters {
		out.Filters[i] = f
		out.Filters[i].Tags = append([]string(nil), f.Tags...)
	}
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		out.ExpiresAt = &t
	}
	if s.Tags != nil {
		out.Tags = make(map[string]string, len(s.Tags))
		for k, v := range s.Tags {
			out.Tags[k] = v
		}
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	return &out
}

// Record is the stored and journaled form of a snapshot: its metadata, the
// frozen items and the id of the operation that created it. Version grows
// with every change so replay can keep the newest record.
type Record struct {
	Snapshot    Snapshot          `msgpack:"snapshot"`
	Items       []setting.Setting `msgpack:"items"`
	OperationID string            `msgpack:"operation_id"`
	Version     uint64            `msgpack:"version"`
	Purged      bool              `msgpack:"purged"`
}

// PollResult is the state of a snapshot creation.
type PollResult struct {
	Status   Status
	Snapshot *Snapshot
	// Error is set when Status is failed.
	Error *ErrorDetail
}

// Field names a projectable snapshot attribute.
type Field string

const (
	FieldName            Field = "name"
	FieldStatus          Field = "status"
	FieldFilters         Field = "filters"
	FieldComposition     Field = "composition_type"
	FieldRetentionPeriod Field = "retention_period"
	FieldItemCount       Field = "items_count"
	FieldSize            Field = "size"
	FieldCreated         Field = "created"
	FieldExpires         Field = "expires"
	FieldETag            Field = "etag"
	FieldTags            Field = "tags"
)

var knownFields = map[Field]bool{
	FieldName: true, FieldStatus: true, FieldFilters: true, FieldComposition: true,
	FieldRetentionPeriod: true, FieldItemCount: true, FieldSize: true,
	FieldCreated: true, FieldExpires: true, FieldETag: true, FieldTags: true,
}

// ParseFields parses a comma-separated snapshot field list.
func ParseFields(s string) ([]Field, error) {
	if s == "" {
		return nil, nil
	}
	var fields []Field
	for _, part := range strings.Split(s, ",") {
		f := Field(strings.TrimSpace(part))
		if !knownFields[f] {
			return nil, setting.InvalidArgument("unknown snapshot field %q", part)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// project returns a copy of s restricted to fields. No fields keeps all.
func project(s *Snapshot, fields []Field) (Snapshot, error) {
	out := s.Clone()
	if len(fields) == 0 {
		return *out, nil
	}
	keep := make(map[Field]bool, len(fields))
	for _, f := range fields {
		if !knownFields[f] {
			return Snapshot{}, setting.InvalidArgument("unknown snapshot field %q", f)
		}
		keep[f] = true
	}
	if !keep[FieldName] {
		out.Name = ""
	}
	if !keep[FieldStatus] {
		out.Status = ""
		out.Error = nil
	}
	if !keep[FieldFilters] {
		out.Filters = nil
	}
	if !keep[FieldComposition] {
		out.Composition = ""
	}
	if !keep[FieldRetentionPeriod] {
		out.RetentionPeriod = 0
	}
	if !keep[FieldItemCount] {
		out.ItemCount = 0
	}
	if !keep[FieldSize] {
		out.SizeInBytes = 0
	}
	if !keep[FieldCreated] {
		out.CreatedAt = time.Time{}
	}
	if !keep[FieldExpires] {
		out.ExpiresAt = nil
	}
	if !keep[FieldETag] {
		out.ETag = ""
	}
	if !keep[FieldTags] {
		out.Tags = nil
	}
	return *out, nil
}

// settingSize approximates the stored size of a setting.
func settingSize(s *setting.Setting) int64 {
	n := len(s.Key)
	for _, p := range []*string{s.Label, s.Value, s.ContentType} {
		if p != nil {
			n += len(*p)
		}
	}
	for k, v := range s.Tags {
		n += len(k) + len(v)
	}
	return int64(n)
}
