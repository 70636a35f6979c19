package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finkargo/tip-analytics/internal/config"
	"github.com/finkargo/tip-analytics/internal/core"
)

func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.Metric {
			got := map[string]string{}
			for _, l := range m.Label {
				got[l.GetName()] = l.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue next
				}
			}
			return m
		}
	}
	return nil
}

func TestCollector_RecordsFetchesAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetch("acme", "CSVProvider", core.DataTypeSales, "success", 120*time.Millisecond)
	c.RecordFetch("acme", "CSVProvider", core.DataTypeSales, "success", 80*time.Millisecond)
	c.RecordExhausted("acme", core.DataTypeInventory)
	c.RecordProviderStatus("BackendProvider", core.ProviderDegraded)
	c.RecordHealth(core.HealthStatus{OverallHealth: core.HealthDegraded, FallbackActive: true, LastCheck: time.Unix(1700000000, 0)})
	c.RecordUpload("acme", true, 2)

	m := findMetric(t, reg, "tip_provider_requests_total", map[string]string{"provider": "CSVProvider", "outcome": "success"})
	require.NotNil(t, m)
	assert.Equal(t, 2.0, m.GetCounter().GetValue())

	m = findMetric(t, reg, "tip_provider_request_duration_seconds", map[string]string{"tenant_id": "acme"})
	require.NotNil(t, m)
	assert.Equal(t, uint64(2), m.GetHistogram().GetSampleCount())

	m = findMetric(t, reg, "tip_providers_exhausted_total", map[string]string{"data_type": "inventory"})
	require.NotNil(t, m)
	assert.Equal(t, 1.0, m.GetCounter().GetValue())

	m = findMetric(t, reg, "tip_provider_status", map[string]string{"provider": "BackendProvider"})
	require.NotNil(t, m)
	assert.Equal(t, 0.5, m.GetGauge().GetValue())

	assert.Equal(t, 0.5, findMetric(t, reg, "tip_overall_health", nil).GetGauge().GetValue())
	assert.Equal(t, 1.0, findMetric(t, reg, "tip_fallback_active", nil).GetGauge().GetValue())
	assert.Equal(t, 1700000000.0, findMetric(t, reg, "tip_last_health_check_timestamp", nil).GetGauge().GetValue())

	m = findMetric(t, reg, "tip_upload_skipped_rows_total", map[string]string{"tenant_id": "acme"})
	require.NotNil(t, m)
	assert.Equal(t, 2.0, m.GetCounter().GetValue())

	c.ForgetProvider("BackendProvider")
	assert.Nil(t, findMetric(t, reg, "tip_provider_status", map[string]string{"provider": "BackendProvider"}))
}

type pushRecord struct {
	tenant string
	auth   string
	req    prompb.WriteRequest
}

func newMimir(t *testing.T) (*httptest.Server, func() []pushRecord) {
	t.Helper()
	var (
		mu      sync.Mutex
		records []pushRecord
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/push", r.URL.Path)
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))

		compressed, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := snappy.Decode(nil, compressed)
		require.NoError(t, err)

		var req prompb.WriteRequest
		require.NoError(t, req.Unmarshal(raw))

		mu.Lock()
		records = append(records, pushRecord{
			tenant: r.Header.Get("X-Scope-OrgID"),
			auth:   r.Header.Get("Authorization"),
			req:    req,
		})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []pushRecord {
		mu.Lock()
		defer mu.Unlock()
		return append([]pushRecord(nil), records...)
	}
}

func seriesName(ts prompb.TimeSeries) string {
	for _, l := range ts.Labels {
		if l.Name == "__name__" {
			return l.Value
		}
	}
	return ""
}

func TestRemoteWriter_PushGroupsByTenant(t *testing.T) {
	srv, pushed := newMimir(t)

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordFetch("acme", "FallbackProvider", core.DataTypeInventory, "success", time.Millisecond)
	c.RecordUpload("globex", false, 0)
	c.RecordHealth(core.HealthStatus{OverallHealth: core.HealthHealthy})

	w := NewRemoteWriter(config.MimirConfig{URL: srv.URL + "/", AuthToken: "secret"}, reg, nil)
	require.NoError(t, w.Push(context.Background()))

	byTenant := map[string][]string{}
	for _, rec := range pushed() {
		assert.Equal(t, "Bearer secret", rec.auth)
		for _, ts := range rec.req.Timeseries {
			byTenant[rec.tenant] = append(byTenant[rec.tenant], seriesName(ts))
		}
	}

	assert.Contains(t, byTenant["acme"], "tip_provider_requests_total")
	assert.Contains(t, byTenant["acme"], "tip_provider_request_duration_seconds_bucket")
	assert.Contains(t, byTenant["acme"], "tip_provider_request_duration_seconds_count")
	assert.Contains(t, byTenant["globex"], "tip_uploads_total")
	assert.Contains(t, byTenant["tip-platform"], "tip_overall_health")
	assert.NotContains(t, byTenant["acme"], "tip_overall_health")
}

func TestRemoteWriter_Batches(t *testing.T) {
	srv, pushed := newMimir(t)

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	for _, p := range []string{"a", "b", "c", "d", "e"} {
		c.RecordProviderStatus(p, core.ProviderOnline)
	}

	w := NewRemoteWriter(config.MimirConfig{URL: srv.URL, BatchSize: 2}, reg, nil)
	require.NoError(t, w.Push(context.Background()))

	total := 0
	for _, rec := range pushed() {
		assert.LessOrEqual(t, len(rec.req.Timeseries), 2)
		total += len(rec.req.Timeseries)
	}
	// Five provider series plus the three unlabelled health gauges.
	assert.Equal(t, 8, total)
}

func TestRemoteWriter_ReportsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of order sample", http.StatusBadRequest)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	NewCollector(reg).RecordHealth(core.HealthStatus{OverallHealth: core.HealthCritical})

	err := NewRemoteWriter(config.MimirConfig{URL: srv.URL}, reg, nil).Push(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of order sample")
}
