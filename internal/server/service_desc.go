package server

// The service descriptor is written by hand so the wire messages can stay
// plain Go structs carried by the JSON codec.

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(JSONCodec{})
}

// JSONCodec is a JSON-based gRPC codec registered as content subtype "json".
type JSONCodec struct{}

func (JSONCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) Name() string { return "json" }

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "cfgstore.v1.ConfigurationService"

// ConfigurationServiceServer is the server side of the service.
type ConfigurationServiceServer interface {
	AddSetting(context.Context, *AddSettingRequest) (*SettingResponse, error)
	SetSetting(context.Context, *SetSettingRequest) (*SettingResponse, error)
	GetSetting(context.Context, *GetSettingRequest) (*SettingResponse, error)
	DeleteSetting(context.Context, *DeleteSettingRequest) (*SettingResponse, error)
	SetReadOnly(context.Context, *SetReadOnlyRequest) (*SettingResponse, error)
	ListSettings(context.Context, *ListSettingsRequest) (*ListSettingsResponse, error)
	ListRevisions(context.Context, *ListSettingsRequest) (*ListSettingsResponse, error)
	ListLabels(context.Context, *ListLabelsRequest) (*ListLabelsResponse, error)
	CreateSnapshot(context.Context, *CreateSnapshotRequest) (*OperationResponse, error)
	GetOperation(context.Context, *GetOperationRequest) (*OperationResponse, error)
	GetSnapshot(context.Context, *GetSnapshotRequest) (*SnapshotResponse, error)
	ListSnapshots(context.Context, *ListSnapshotsRequest) (*ListSnapshotsResponse, error)
	ArchiveSnapshot(context.Context, *UpdateSnapshotRequest) (*SnapshotResponse, error)
	RecoverSnapshot(context.Context, *UpdateSnapshotRequest) (*SnapshotResponse, error)
	ListSnapshotSettings(context.Context, *ListSnapshotSettingsRequest) (*ListSettingsResponse, error)
	Health(context.Context, *HealthRequest) (*HealthResponse, error)
	Stats(context.Context, *StatsRequest) (*StatsResponse, error)
}

// RegisterConfigurationServiceServer registers srv on s.
func RegisterConfigurationServiceServer(s grpc.ServiceRegistrar, srv ConfigurationServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConfigurationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("AddSetting", ConfigurationServiceServer.AddSetting),
		unary("SetSetting", ConfigurationServiceServer.SetSetting),
		unary("GetSetting", ConfigurationServiceServer.GetSetting),
		unary("DeleteSetting", ConfigurationServiceServer.DeleteSetting),
		unary("SetReadOnly", ConfigurationServiceServer.SetReadOnly),
		unary("ListSettings", ConfigurationServiceServer.ListSettings),
		unary("ListRevisions", ConfigurationServiceServer.ListRevisions),
		unary("ListLabels", ConfigurationServiceServer.ListLabels),
		unary("CreateSnapshot", ConfigurationServiceServer.CreateSnapshot),
		unary("GetOperation", ConfigurationServiceServer.GetOperation),
		unary("GetSnapshot", ConfigurationServiceServer.GetSnapshot),
		unary("ListSnapshots", ConfigurationServiceServer.ListSnapshots),
		unary("ArchiveSnapshot", ConfigurationServiceServer.ArchiveSnapshot),
		unary("RecoverSnapshot", ConfigurationServiceServer.RecoverSnapshot),
		unary("ListSnapshotSettings", ConfigurationServiceServer.ListSnapshotSettings),
		unary("Health", ConfigurationServiceServer.Health),
		unary("Stats", ConfigurationServiceServer.Stats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cfgstore/v1/configuration.proto",
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary builds the method descriptor for one RPC.
func unary[Req, Resp any](name string, call func(ConfigurationServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ConfigurationServiceServer), ctx, req)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(name),
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ConfigurationServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, req, info, handler)
		},
	}
}
