package server

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls ConfigurationService over a gRPC connection using the JSON
// codec. Errors come back as *setting.Error where the server sent one.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Req, Resp any](ctx context.Context, c *Client, method string, req *Req, opts []grpc.CallOption) (*Resp, error) {
	resp := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodec{}.Name())}, opts...)
	if err := c.cc.Invoke(ctx, fullMethod(method), req, resp, opts...); err != nil {
		return nil, fromStatus(err)
	}
	return resp, nil
}

func (c *Client) AddSetting(ctx context.Context, req *AddSettingRequest, opts ...grpc.CallOption) (*SettingResponse, error) {
	return invoke[AddSettingRequest, SettingResponse](ctx, c, "AddSetting", req, opts)
}

func (c *Client) SetSetting(ctx context.Context, req *SetSettingRequest, opts ...grpc.CallOption) (*SettingResponse, error) {
	return invoke[SetSettingRequest, SettingResponse](ctx, c, "SetSetting", req, opts)
}

func (c *Client) GetSetting(ctx context.Context, req *GetSettingRequest, opts ...grpc.CallOption) (*SettingResponse, error) {
	return invoke[GetSettingRequest, SettingResponse](ctx, c, "GetSetting", req, opts)
}

func (c *Client) DeleteSetting(ctx context.Context, req *DeleteSettingRequest, opts ...grpc.CallOption) (*SettingResponse, error) {
	return invoke[DeleteSettingRequest, SettingResponse](ctx, c, "DeleteSetting", req, opts)
}

func (c *Client) SetReadOnly(ctx context.Context, req *SetReadOnlyRequest, opts ...grpc.CallOption) (*SettingResponse, error) {
	return invoke[SetReadOnlyRequest, SettingResponse](ctx, c, "SetReadOnly", req, opts)
}

func (c *Client) ListSettings(ctx context.Context, req *ListSettingsRequest, opts ...grpc.CallOption) (*ListSettingsResponse, error) {
	return invoke[ListSettingsRequest, ListSettingsResponse](ctx, c, "ListSettings", req, opts)
}

func (c *Client) ListRevisions(ctx context.Context, req *ListSettingsRequest, opts ...grpc.CallOption) (*ListSettingsResponse, error) {
	return invoke[ListSettingsRequest, ListSettingsResponse](ctx, c, "ListRevisions", req, opts)
}

func (c *Client) ListLabels(ctx context.Context, req *ListLabelsRequest, opts ...grpc.CallOption) (*ListLabelsResponse, error) {
	return invoke[ListLabelsRequest, ListLabelsResponse](ctx, c, "ListLabels", req, opts)
}

func (c *Client) CreateSnapshot(ctx context.Context, req *CreateSnapshotRequest, opts ...grpc.CallOption) (*OperationResponse, error) {
	return invoke[CreateSnapshotRequest, OperationResponse](ctx, c, "CreateSnapshot", req, opts)
}

func (c *Client) GetOperation(ctx context.Context, req *GetOperationRequest, opts ...grpc.CallOption) (*OperationResponse, error) {
	return invoke[GetOperationRequest, OperationResponse](ctx, c, "GetOperation", req, opts)
}

func (c *Client) GetSnapshot(ctx context.Context, req *GetSnapshotRequest, opts ...grpc.CallOption) (*SnapshotResponse, error) {
	return invoke[GetSnapshotRequest, SnapshotResponse](ctx, c, "GetSnapshot", req, opts)
}

func (c *Client) ListSnapshots(ctx context.Context, req *ListSnapshotsRequest, opts ...grpc.CallOption) (*ListSnapshotsResponse, error) {
	return invoke[ListSnapshotsRequest, ListSnapshotsResponse](ctx, c, "ListSnapshots", req, opts)
}

func (c *Client) ArchiveSnapshot(ctx context.Context, req *UpdateSnapshotRequest, opts ...grpc.CallOption) (*SnapshotResponse, error) {
	return invoke[UpdateSnapshotRequest, SnapshotResponse](ctx, c, "ArchiveSnapshot", req, opts)
}

func (c *Client) RecoverSnapshot(ctx context.Context, req *UpdateSnapshotRequest, opts ...grpc.CallOption) (*SnapshotResponse, error) {
	return invoke[UpdateSnapshotRequest, SnapshotResponse](ctx, c, "RecoverSnapshot", req, opts)
}

func (c *Client) ListSnapshotSettings(ctx context.Context, req *ListSnapshotSettingsRequest, opts ...grpc.CallOption) (*ListSettingsResponse, error) {
	return invoke[ListSnapshotSettingsRequest, ListSettingsResponse](ctx, c, "ListSnapshotSettings", req, opts)
}

func (c *Client) Health(ctx context.Context, opts ...grpc.CallOption) (*HealthResponse, error) {
	return invoke[HealthRequest, HealthResponse](ctx, c, "Health", &HealthRequest{}, opts)
}

func (c *Client) Stats(ctx context.Context, opts ...grpc.CallOption) (*StatsResponse, error) {
	return invoke[StatsRequest, StatsResponse](ctx, c, "Stats", &StatsRequest{}, opts)
}
