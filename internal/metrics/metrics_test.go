package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordsOnOwnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordGrpcRequest("GetSetting", "OK", 5*time.Millisecond)
	m.RecordGrpcRequest("GetSetting", "OK", 5*time.Millisecond)
	m.RecordStoreOperation("put", "PreconditionFailed")
	m.RecordPage("list_settings", true)
	m.RecordEvent("redis", errors.New("down"))
	m.UpdateStoreStats(3, 7, map[string]int{"ready": 2})

	if got := testutil.ToFloat64(m.GrpcRequestsTotal.WithLabelValues("GetSetting", "OK")); got != 2 {
		t.Errorf("grpc requests = %v", got)
	}
	if got := testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("put", "PreconditionFailed")); got != 1 {
		t.Errorf("store operations = %v", got)
	}
	if got := testutil.ToFloat64(m.PagesTotal.WithLabelValues("list_settings", "true")); got != 1 {
		t.Errorf("pages = %v", got)
	}
	if got := testutil.ToFloat64(m.EventsPublishedTotal.WithLabelValues("redis", "error")); got != 1 {
		t.Errorf("events = %v", got)
	}
	if got := testutil.ToFloat64(m.RevisionsTotal); got != 7 {
		t.Errorf("revisions = %v", got)
	}
	if got := testutil.ToFloat64(m.SnapshotsByStatus.WithLabelValues("ready")); got != 2 {
		t.Errorf("ready snapshots = %v", got)
	}
}

func TestNewTwiceOnSeparateRegistries(t *testing.T) {
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
