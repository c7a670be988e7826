// Package client is an HTTP client for the cfgstore REST API.
package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nainya/cfgstore/pkg/query"
	"github.com/nainya/cfgstore/pkg/setting"
	"github.com/nainya/cfgstore/pkg/snapshot"
)

// Client calls a cfgstore server.
type Client struct {
	rc *resty.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	return NewFromResty(resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json"))
}

// NewFromResty wraps a configured resty client.
func NewFromResty(rc *resty.Client) *Client {
	return &Client{rc: rc}
}

func itoa(n int) string { return strconv.Itoa(n) }

// formatDatetime keeps nanoseconds so a LastModified read back from the
// server selects exactly that revision.
func formatDatetime(t *time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func labelQuery(label *string) string {
	if label == nil {
		return NullLabel
	}
	return *label
}

func joinFields[F ~string](fields []F) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = string(f)
	}
	return strings.Join(parts, ",")
}

func (c *Client) settingRequest(ctx context.Context, key string, label *string) *resty.Request {
	return c.rc.R().
		SetContext(ctx).
		SetPathParam("key", key).
		SetQueryParam(ParamLabel, labelQuery(label)).
		SetError(&ErrorBody{})
}

func settingResult(resp *resty.Response, err error, kv *KeyValue) (*setting.Setting, error) {
	if err := check(resp, err); err != nil {
		return nil, err
	}
	s := kv.Setting()
	return &s, nil
}

// Add creates a setting that must not exist yet.
func (c *Client) Add(ctx context.Context, s setting.Setting) (*setting.Setting, error) {
	return c.Set(ctx, s, setting.Conditions{IfNoneMatch: setting.Any})
}

// Set creates or replaces a setting under cond.
func (c *Client) Set(ctx context.Context, s setting.Setting, cond setting.Conditions) (*setting.Setting, error) {
	var kv KeyValue
	req := c.settingRequest(ctx, s.Key, s.Label).
		SetBody(PutKeyValue{Value: s.Value, ContentType: s.ContentType, Tags: s.Tags}).
		SetResult(&kv)
	if cond.IfMatch != "" {
		req.SetHeader(HeaderIfMatch, cond.IfMatch)
	}
	if cond.IfNoneMatch != "" {
		req.SetHeader(HeaderIfNoneMatch, cond.IfNoneMatch)
	}
	resp, err := req.Put("/kv/{key}")
	return settingResult(resp, err, &kv)
}

// GetOptions control Get.
type GetOptions struct {
	AcceptDatetime *time.Time
	IfNoneMatch    string
	Fields         []query.Field
}

// GetResult is the outcome of Get. NotModified is set, with a nil Setting,
// when IfNoneMatch matched.
type GetResult struct {
	Setting     *setting.Setting
	NotModified bool
}

// Get reads one setting.
func (c *Client) Get(ctx context.Context, key string, label *string, opts GetOptions) (*GetResult, error) {
	var kv KeyValue
	req := c.settingRequest(ctx, key, label).SetResult(&kv)
	if opts.AcceptDatetime != nil {
		req.SetHeader(HeaderAcceptDatetime, formatDatetime(opts.AcceptDatetime))
	}
	if opts.IfNoneMatch != "" {
		req.SetHeader(HeaderIfNoneMatch, opts.IfNoneMatch)
	}
	if len(opts.Fields) > 0 {
		req.SetQueryParam(ParamSelect, joinFields(opts.Fields))
	}
	resp, err := req.Get("/kv/{key}")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotModified {
		return &GetResult{NotModified: true}, nil
	}
	s := kv.Setting()
	return &GetResult{Setting: &s}, nil
}

// Delete removes a setting. It returns (nil, nil) when there was nothing to
// delete.
func (c *Client) Delete(ctx context.Context, key string, label *string, ifMatch string) (*setting.Setting, error) {
	var kv KeyValue
	req := c.settingRequest(ctx, key, label).SetResult(&kv)
	if ifMatch != "" {
		req.SetHeader(HeaderIfMatch, ifMatch)
	}
	resp, err := req.Delete("/kv/{key}")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNoContent {
		return nil, nil
	}
	s := kv.Setting()
	return &s, nil
}

// SetReadOnly locks or unlocks a setting.
func (c *Client) SetReadOnly(ctx context.Context, key string, label *string, readOnly bool, ifMatch string) (*setting.Setting, error) {
	var kv KeyValue
	req := c.settingRequest(ctx, key, label).SetResult(&kv)
	if ifMatch != "" {
		req.SetHeader(HeaderIfMatch, ifMatch)
	}
	var (
		resp *resty.Response
		err  error
	)
	if readOnly {
		resp, err = req.Put("/locks/{key}")
	} else {
		resp, err = req.Delete("/locks/{key}")
	}
	return settingResult(resp, err, &kv)
}

// ListOptions select settings or revisions to list.
type ListOptions struct {
	KeyFilter      string
	LabelFilter    string
	TagsFilter     []string
	AcceptDatetime *time.Time
	Fields         []query.Field
	PageSize       int
	// MatchConditions holds previously seen page ETags, one per page.
	MatchConditions []string
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if o.KeyFilter != "" {
		v.Set(ParamKey, o.KeyFilter)
	}
	if o.LabelFilter != "" {
		v.Set(ParamLabel, o.LabelFilter)
	}
	for _, t := range o.TagsFilter {
		v.Add(ParamTags, t)
	}
	if len(o.Fields) > 0 {
		v.Set(ParamSelect, joinFields(o.Fields))
	}
	return v
}

func toSetting(kv KeyValue) setting.Setting { return kv.Setting() }

func asOfHeader(t *time.Time) map[string]string {
	if t == nil {
		return nil
	}
	return map[string]string{HeaderAcceptDatetime: formatDatetime(t)}
}

func (c *Client) listSettings(path string, opts ListOptions) *Pager[setting.Setting] {
	l := lister{path: path, params: opts.values(), headers: asOfHeader(opts.AcceptDatetime), pageSize: opts.PageSize, match: opts.MatchConditions}
	return listPager(c, l, toSetting)
}

// List pages through current settings, or settings as of AcceptDatetime.
func (c *Client) List(opts ListOptions) *Pager[setting.Setting] {
	return c.listSettings("/kv", opts)
}

// ListRevisions pages through revisions, newest first.
func (c *Client) ListRevisions(opts ListOptions) *Pager[setting.Setting] {
	return c.listSettings("/revisions", opts)
}

// LabelOptions select labels to list.
type LabelOptions struct {
	NameFilter      string
	AcceptDatetime  *time.Time
	PageSize        int
	MatchConditions []string
}

// ListLabels pages through the distinct labels in use.
func (c *Client) ListLabels(opts LabelOptions) *Pager[query.Label] {
	v := url.Values{}
	if opts.NameFilter != "" {
		v.Set(ParamName, opts.NameFilter)
	}
	l := lister{path: "/labels", params: v, headers: asOfHeader(opts.AcceptDatetime), pageSize: opts.PageSize, match: opts.MatchConditions}
	return listPager(c, l, func(l Label) query.Label {
		return query.Label{Name: l.Name}
	})
}

// BeginCreateSnapshot starts creating a snapshot and returns its poller.
func (c *Client) BeginCreateSnapshot(ctx context.Context, name string, spec snapshot.Spec) (*SnapshotPoller, error) {
	var op Operation
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("name", name).
		SetBody(CreateSnapshot{
			Filters:         FromFilters(spec.Filters),
			CompositionType: string(spec.Composition),
			RetentionPeriod: int64(spec.RetentionPeriod / time.Second),
			Tags:            spec.Tags,
		}).
		SetResult(&op).
		SetError(&ErrorBody{}).
		Put("/snapshots/{name}")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &SnapshotPoller{c: c, id: op.ID, last: &op}, nil
}

// SnapshotOperation resumes polling an operation started earlier.
func (c *Client) SnapshotOperation(id string) *SnapshotPoller {
	return &SnapshotPoller{c: c, id: id}
}

// GetSnapshot reads one snapshot, projected to fields when given.
func (c *Client) GetSnapshot(ctx context.Context, name string, fields []snapshot.Field) (*snapshot.Snapshot, error) {
	var out Snapshot
	req := c.rc.R().
		SetContext(ctx).
		SetPathParam("name", name).
		SetResult(&out).
		SetError(&ErrorBody{})
	if len(fields) > 0 {
		req.SetQueryParam(ParamSelect, joinFields(fields))
	}
	resp, err := req.Get("/snapshots/{name}")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return out.Snapshot(), nil
}

// SnapshotListOptions select snapshots to list.
type SnapshotListOptions struct {
	NameFilter      string
	Statuses        []snapshot.Status
	Fields          []snapshot.Field
	PageSize        int
	MatchConditions []string
}

// ListSnapshots pages through snapshots in name order.
func (c *Client) ListSnapshots(opts SnapshotListOptions) *Pager[snapshot.Snapshot] {
	v := url.Values{}
	if opts.NameFilter != "" {
		v.Set(ParamName, opts.NameFilter)
	}
	if len(opts.Statuses) > 0 {
		v.Set(ParamStatus, joinFields(opts.Statuses))
	}
	if len(opts.Fields) > 0 {
		v.Set(ParamSelect, joinFields(opts.Fields))
	}
	l := lister{path: "/snapshots", params: v, pageSize: opts.PageSize, match: opts.MatchConditions}
	return listPager(c, l, func(s *Snapshot) snapshot.Snapshot {
		return *s.Snapshot()
	})
}

func (c *Client) patchSnapshot(ctx context.Context, name string, status snapshot.Status, ifMatch string) (*snapshot.Snapshot, error) {
	var out Snapshot
	req := c.rc.R().
		SetContext(ctx).
		SetPathParam("name", name).
		SetBody(PatchSnapshot{Status: string(status)}).
		SetResult(&out).
		SetError(&ErrorBody{})
	if ifMatch != "" {
		req.SetHeader(HeaderIfMatch, ifMatch)
	}
	resp, err := req.Patch("/snapshots/{name}")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return out.Snapshot(), nil
}

// ArchiveSnapshot archives a ready snapshot.
func (c *Client) ArchiveSnapshot(ctx context.Context, name string, ifMatch string) (*snapshot.Snapshot, error) {
	return c.patchSnapshot(ctx, name, snapshot.StatusArchived, ifMatch)
}

// RecoverSnapshot returns an archived snapshot to ready.
func (c *Client) RecoverSnapshot(ctx context.Context, name string, ifMatch string) (*snapshot.Snapshot, error) {
	return c.patchSnapshot(ctx, name, snapshot.StatusReady, ifMatch)
}

// ListSnapshotSettings pages through the frozen items of a snapshot.
func (c *Client) ListSnapshotSettings(name string, fields []query.Field, pageSize int) *Pager[setting.Setting] {
	v := url.Values{}
	if len(fields) > 0 {
		v.Set(ParamSelect, joinFields(fields))
	}
	l := lister{path: "/snapshots/{name}/kv", pathParams: map[string]string{"name": name}, params: v, pageSize: pageSize}
	return listPager(c, l, toSetting)
}
