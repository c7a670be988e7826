// ABOUTME: JSON wire model of the cfgstore REST API
// ABOUTME: Shared by the HTTP handlers and the resty client

package client

import (
	"time"

	"github.com/nainya/cfgstore/pkg/setting"
	"github.com/nainya/cfgstore/pkg/snapshot"
)

// Header and query parameter names.
const (
	HeaderIfMatch           = "If-Match"
	HeaderIfNoneMatch       = "If-None-Match"
	HeaderETag              = "ETag"
	HeaderAcceptDatetime    = "Accept-Datetime"
	HeaderOperationLocation = "Operation-Location"
	HeaderLink              = "Link"
	HeaderRequestID         = "X-Request-ID"

	ParamKey      = "key"
	ParamLabel    = "label"
	ParamTags     = "tags"
	ParamSelect   = "$select"
	ParamAfter    = "after"
	ParamPageSize = "page_size"
	ParamName     = "name"
	ParamStatus   = "status"
)

// NullLabel is the label query value that addresses the null label.
const NullLabel = `\0`

// KeyValue is the JSON form of a setting.
type KeyValue struct {
	Key          string            `json:"key"`
	Label        *string           `json:"label"`
	Value        *string           `json:"value"`
	ContentType  *string           `json:"content_type"`
	Tags         map[string]string `json:"tags,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	LastModified *time.Time        `json:"last_modified,omitempty"`
	Locked       bool              `json:"locked"`
}

// PutKeyValue is the body of PUT /kv/{key}.
type PutKeyValue struct {
	Value       *string           `json:"value"`
	ContentType *string           `json:"content_type"`
	Tags        map[string]string `json:"tags"`
}

// Label is one entry of GET /labels.
type Label struct {
	Name *string `json:"name"`
}

// List is the body of every listing response.
type List[T any] struct {
	Items    []T    `json:"items"`
	NextLink string `json:"@nextLink,omitempty"`
}

// Filter is the JSON form of a snapshot filter.
type Filter struct {
	Key   string   `json:"key"`
	Label string   `json:"label,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// ErrorDetail explains a failed snapshot.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Snapshot is the JSON form of a snapshot. RetentionPeriod is in seconds.
type Snapshot struct {
	Name            string            `json:"name,omitempty"`
	Status          string            `json:"status,omitempty"`
	Filters         []Filter          `json:"filters,omitempty"`
	CompositionType string            `json:"composition_type,omitempty"`
	RetentionPeriod int64             `json:"retention_period,omitempty"`
	ItemsCount      int               `json:"items_count"`
	Size            int64             `json:"size"`
	Created         *time.Time        `json:"created,omitempty"`
	Expires         *time.Time        `json:"expires,omitempty"`
	ETag            string            `json:"etag,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
	Error           *ErrorDetail      `json:"error,omitempty"`
}

// CreateSnapshot is the body of PUT /snapshots/{name}.
type CreateSnapshot struct {
	Filters         []Filter          `json:"filters"`
	CompositionType string            `json:"composition_type,omitempty"`
	RetentionPeriod int64             `json:"retention_period,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
}

// PatchSnapshot is the body of PATCH /snapshots/{name}.
type PatchSnapshot struct {
	Status string `json:"status"`
}

// Operation is the state of a snapshot creation.
type Operation struct {
	ID       string       `json:"id"`
	Status   string       `json:"status"`
	Snapshot *Snapshot    `json:"snapshot,omitempty"`
	Error    *ErrorDetail `json:"error,omitempty"`
}

// ErrorBody is the envelope of every error response.
type ErrorBody struct {
	Error ErrorInfo `json:"error"`
}

// ErrorInfo describes one error.
type ErrorInfo struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	RequestID string   `json:"request_id"`
	Details   []string `json:"details"`
}

// FromSetting converts a setting to its JSON form.
func FromSetting(s *setting.Setting) KeyValue {
	kv := KeyValue{
		Key:         s.Key,
		Label:       s.Label,
		Value:       s.Value,
		ContentType: s.ContentType,
		Tags:        s.Tags,
		ETag:        s.ETag,
		Locked:      s.ReadOnly,
	}
	if !s.LastModified.IsZero() {
		t := s.LastModified
		kv.LastModified = &t
	}
	return kv
}

// Setting converts kv back to a setting.
func (kv KeyValue) Setting() setting.Setting {
	s := setting.Setting{
		Key:         kv.Key,
		Label:       kv.Label,
		Value:       kv.Value,
		ContentType: kv.ContentType,
		Tags:        kv.Tags,
		ETag:        kv.ETag,
		ReadOnly:    kv.Locked,
	}
	if kv.LastModified != nil {
		s.LastModified = *kv.LastModified
	}
	return s
}

// FromFilters converts snapshot filters to their JSON form.
func FromFilters(in []snapshot.KeyValueFilter) []Filter {
	out := make([]Filter, 0, len(in))
	for _, f := range in {
		out = append(out, Filter{Key: f.Key, Label: f.Label, Tags: f.Tags})
	}
	return out
}

// Filters converts JSON filters to snapshot filters.
func Filters(in []Filter) []snapshot.KeyValueFilter {
	out := make([]snapshot.KeyValueFilter, 0, len(in))
	for _, f := range in {
		out = append(out, snapshot.KeyValueFilter{Key: f.Key, Label: f.Label, Tags: f.Tags})
	}
	return out
}

// FromSnapshot converts a snapshot to its JSON form.
func FromSnapshot(s *snapshot.Snapshot) *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Name:            s.Name,
		Status:          string(s.Status),
		CompositionType: string(s.Composition),
		RetentionPeriod: int64(s.RetentionPeriod / time.Second),
		ItemsCount:      s.ItemCount,
		Size:            s.SizeInBytes,
		Expires:         s.ExpiresAt,
		ETag:            s.ETag,
		Tags:            s.Tags,
	}
	if len(s.Filters) > 0 {
		out.Filters = FromFilters(s.Filters)
	}
	if !s.CreatedAt.IsZero() {
		t := s.CreatedAt
		out.Created = &t
	}
	if s.Error != nil {
		out.Error = &ErrorDetail{Code: s.Error.Code, Message: s.Error.Message}
	}
	return out
}

// Snapshot converts s back to a domain snapshot.
func (s *Snapshot) Snapshot() *snapshot.Snapshot {
	out := &snapshot.Snapshot{
		Name:            s.Name,
		Status:          snapshot.Status(s.Status),
		Composition:     snapshot.Composition(s.CompositionType),
		RetentionPeriod: time.Duration(s.RetentionPeriod) * time.Second,
		ItemCount:       s.ItemsCount,
		SizeInBytes:     s.Size,
		ExpiresAt:       s.Expires,
		ETag:            s.ETag,
		Tags:            s.Tags,
	}
	if len(s.Filters) > 0 {
		out.Filters = Filters(s.Filters)
	}
	if s.Created != nil {
		out.CreatedAt = *s.Created
	}
	if s.Error != nil {
		out.Error = &snapshot.ErrorDetail{Code: s.Error.Code, Message: s.Error.Message}
	}
	return out
}

// FromPollResult converts the state of operation id to its JSON form.
func FromPollResult(id string, res *snapshot.PollResult) *Operation {
	op := &Operation{ID: id, Status: string(res.Status), Snapshot: FromSnapshot(res.Snapshot)}
	if res.Error != nil {
		op.Error = &ErrorDetail{Code: res.Error.Code, Message: res.Error.Message}
	}
	return op
}
