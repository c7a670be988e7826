package server

import (
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Wire messages of cfgstore.v1.ConfigurationService. They travel through the
// JSON codec; timestamps and durations use the protobuf well-known types.

// Setting is a configuration setting on the wire.
type Setting struct {
	Key          string                 `json:"key"`
	Label        *string                `json:"label,omitempty"`
	Value        *string                `json:"value,omitempty"`
	ContentType  *string                `json:"content_type,omitempty"`
	Tags         map[string]string      `json:"tags,omitempty"`
	ETag         string                 `json:"etag,omitempty"`
	LastModified *timestamppb.Timestamp `json:"last_modified,omitempty"`
	Locked       bool                   `json:"locked,omitempty"`
}

// SettingResponse carries one setting. Status is 200, or 204 when a delete
// found nothing, or 304 when a conditional get matched.
type SettingResponse struct {
	Status  int32    `json:"status"`
	Setting *Setting `json:"setting,omitempty"`
}

type AddSettingRequest struct {
	Setting *Setting `json:"setting"`
}

type SetSettingRequest struct {
	Setting     *Setting `json:"setting"`
	IfMatch     string   `json:"if_match,omitempty"`
	IfNoneMatch string   `json:"if_none_match,omitempty"`
}

type GetSettingRequest struct {
	Key            string                 `json:"key"`
	Label          *string                `json:"label,omitempty"`
	AcceptDatetime *timestamppb.Timestamp `json:"accept_datetime,omitempty"`
	IfNoneMatch    string                 `json:"if_none_match,omitempty"`
	Fields         []string               `json:"fields,omitempty"`
}

type DeleteSettingRequest struct {
	Key     string  `json:"key"`
	Label   *string `json:"label,omitempty"`
	IfMatch string  `json:"if_match,omitempty"`
}

type SetReadOnlyRequest struct {
	Key      string  `json:"key"`
	Label    *string `json:"label,omitempty"`
	ReadOnly bool    `json:"read_only"`
	IfMatch  string  `json:"if_match,omitempty"`
}

// PageOptions are shared by every listing request.
type PageOptions struct {
	PageSize    int32  `json:"page_size,omitempty"`
	After       string `json:"after,omitempty"`
	IfNoneMatch string `json:"if_none_match,omitempty"`
}

// ListSettingsRequest is used by ListSettings and ListRevisions.
type ListSettingsRequest struct {
	KeyFilter      string                 `json:"key_filter,omitempty"`
	LabelFilter    string                 `json:"label_filter,omitempty"`
	TagsFilter     []string               `json:"tags_filter,omitempty"`
	AcceptDatetime *timestamppb.Timestamp `json:"accept_datetime,omitempty"`
	Fields         []string               `json:"fields,omitempty"`
	Page           PageOptions            `json:"page"`
}

// ListSettingsResponse is one page of settings. Status is 304 when the
// page matched IfNoneMatch; Items is then empty.
type ListSettingsResponse struct {
	Status int32      `json:"status"`
	Items  []*Setting `json:"items,omitempty"`
	ETag   string     `json:"etag"`
	Next   string     `json:"next,omitempty"`
}

type ListLabelsRequest struct {
	NameFilter     string                 `json:"name_filter,omitempty"`
	AcceptDatetime *timestamppb.Timestamp `json:"accept_datetime,omitempty"`
	Page           PageOptions            `json:"page"`
}

type Label struct {
	Name *string `json:"name"`
}

type ListLabelsResponse struct {
	Status int32    `json:"status"`
	Items  []*Label `json:"items,omitempty"`
	ETag   string   `json:"etag"`
	Next   string   `json:"next,omitempty"`
}

type KeyValueFilter struct {
	Key   string   `json:"key"`
	Label string   `json:"label,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Snapshot is snapshot metadata on the wire.
type Snapshot struct {
	Name            string                 `json:"name"`
	Status          string                 `json:"status,omitempty"`
	Filters         []*KeyValueFilter      `json:"filters,omitempty"`
	CompositionType string                 `json:"composition_type,omitempty"`
	RetentionPeriod *durationpb.Duration   `json:"retention_period,omitempty"`
	ItemsCount      int64                  `json:"items_count,omitempty"`
	SizeInBytes     int64                  `json:"size,omitempty"`
	CreatedAt       *timestamppb.Timestamp `json:"created,omitempty"`
	ExpiresAt       *timestamppb.Timestamp `json:"expires,omitempty"`
	ETag            string                 `json:"etag,omitempty"`
	Tags            map[string]string      `json:"tags,omitempty"`
	Error           *ErrorDetail           `json:"error,omitempty"`
}

type CreateSnapshotRequest struct {
	Name            string               `json:"name"`
	Filters         []*KeyValueFilter    `json:"filters"`
	CompositionType string               `json:"composition_type,omitempty"`
	RetentionPeriod *durationpb.Duration `json:"retention_period,omitempty"`
	Tags            map[string]string    `json:"tags,omitempty"`
}

// OperationResponse reports a snapshot creation.
type OperationResponse struct {
	ID       string       `json:"id"`
	Status   string       `json:"status"`
	Snapshot *Snapshot    `json:"snapshot,omitempty"`
	Error    *ErrorDetail `json:"error,omitempty"`
}

type GetOperationRequest struct {
	ID string `json:"id"`
}

type GetSnapshotRequest struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields,omitempty"`
}

type SnapshotResponse struct {
	Snapshot *Snapshot `json:"snapshot"`
}

type ListSnapshotsRequest struct {
	NameFilter string      `json:"name_filter,omitempty"`
	Statuses   []string    `json:"statuses,omitempty"`
	Fields     []string    `json:"fields,omitempty"`
	Page       PageOptions `json:"page"`
}

type ListSnapshotsResponse struct {
	Status int32       `json:"status"`
	Items  []*Snapshot `json:"items,omitempty"`
	ETag   string      `json:"etag"`
	Next   string      `json:"next,omitempty"`
}

// UpdateSnapshotRequest is used by ArchiveSnapshot and RecoverSnapshot.
type UpdateSnapshotRequest struct {
	Name    string `json:"name"`
	IfMatch string `json:"if_match,omitempty"`
}

type ListSnapshotSettingsRequest struct {
	Name   string      `json:"name"`
	Fields []string    `json:"fields,omitempty"`
	Page   PageOptions `json:"page"`
}

type HealthRequest struct{}

type HealthResponse struct {
	Status string               `json:"status"`
	Uptime *durationpb.Duration `json:"uptime"`
}

type StatsRequest struct{}

type StatsResponse struct {
	Settings   int64            `json:"settings"`
	Revisions  int64            `json:"revisions"`
	LastSeq    uint64           `json:"last_seq"`
	Snapshots  map[string]int64 `json:"snapshots"`
	Operations map[string]int64 `json:"operations"`
}
