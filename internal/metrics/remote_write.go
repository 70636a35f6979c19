package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"

	"github.com/finkargo/tip-analytics/internal/config"
)

const tenantLabel = "tenant_id"

// RemoteWriter periodically pushes gathered metrics to a Mimir-compatible
// remote write endpoint, one request stream per tenant.
type RemoteWriter struct {
	config   config.MimirConfig
	gatherer prometheus.Gatherer
	client   *http.Client
	logger   *zap.Logger
	now      func() time.Time
}

func NewRemoteWriter(cfg config.MimirConfig, gatherer prometheus.Gatherer, logger *zap.Logger) *RemoteWriter {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.TenantHeader == "" {
		cfg.TenantHeader = "X-Scope-OrgID"
	}
	if cfg.DefaultTenant == "" {
		cfg.DefaultTenant = "tip-platform"
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	return &RemoteWriter{
		config:   cfg,
		gatherer: gatherer,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		now:      time.Now,
	}
}

// Start pushes on every interval until ctx is cancelled.
func (w *RemoteWriter) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.PushInterval)
	defer ticker.Stop()

	w.logger.Info("Starting metrics remote write",
		zap.String("url", w.config.URL),
		zap.Duration("interval", w.config.PushInterval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Push(ctx); err != nil {
				w.logger.Warn("Metrics remote write failed", zap.Error(err))
			}
		}
	}
}

// Push gathers and sends one round of samples.
func (w *RemoteWriter) Push(ctx context.Context) error {
	mfs, err := w.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	byTenant := w.seriesByTenant(mfs)
	tenants := make([]string, 0, len(byTenant))
	for tenantID := range byTenant {
		tenants = append(tenants, tenantID)
	}
	sort.Strings(tenants)

	for _, tenantID := range tenants {
		series := byTenant[tenantID]
		for i := 0; i < len(series); i += w.config.BatchSize {
			end := min(i+w.config.BatchSize, len(series))
			if err := w.sendBatch(ctx, tenantID, series[i:end]); err != nil {
				return fmt.Errorf("failed to send batch for tenant %s: %w", tenantID, err)
			}
		}
	}
	return nil
}

func (w *RemoteWriter) seriesByTenant(mfs []*dto.MetricFamily) map[string][]prompb.TimeSeries {
	ts := w.now().UnixMilli()
	out := make(map[string][]prompb.TimeSeries)

	add := func(tenantID, name string, labels []prompb.Label, value float64, extra ...prompb.Label) {
		all := make([]prompb.Label, 0, len(labels)+len(extra)+1)
		all = append(all, prompb.Label{Name: "__name__", Value: name})
		all = append(all, labels...)
		all = append(all, extra...)
		sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

		out[tenantID] = append(out[tenantID], prompb.TimeSeries{
			Labels:  all,
			Samples: []prompb.Sample{{Value: value, Timestamp: ts}},
		})
	}

	for _, mf := range mfs {
		name := mf.GetName()
		for _, m := range mf.Metric {
			tenantID := w.config.DefaultTenant
			labels := make([]prompb.Label, 0, len(m.Label))
			for _, l := range m.Label {
				if l.GetName() == tenantLabel && l.GetValue() != "" {
					tenantID = l.GetValue()
				}
				labels = append(labels, prompb.Label{Name: l.GetName(), Value: l.GetValue()})
			}

			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				add(tenantID, name, labels, m.GetCounter().GetValue())
			case dto.MetricType_GAUGE:
				add(tenantID, name, labels, m.GetGauge().GetValue())
			case dto.MetricType_UNTYPED:
				add(tenantID, name, labels, m.GetUntyped().GetValue())
			case dto.MetricType_HISTOGRAM:
				hist := m.GetHistogram()
				for _, bucket := range hist.GetBucket() {
					add(tenantID, name+"_bucket", labels, float64(bucket.GetCumulativeCount()),
						prompb.Label{Name: "le", Value: formatBound(bucket.GetUpperBound())})
				}
				add(tenantID, name+"_bucket", labels, float64(hist.GetSampleCount()),
					prompb.Label{Name: "le", Value: "+Inf"})
				add(tenantID, name+"_sum", labels, hist.GetSampleSum())
				add(tenantID, name+"_count", labels, float64(hist.GetSampleCount()))
			}
		}
	}
	return out
}

func (w *RemoteWriter) sendBatch(ctx context.Context, tenantID string, series []prompb.TimeSeries) error {
	req := &prompb.WriteRequest{Timeseries: series}
	data, err := req.Marshal()
	if err != nil {
		return err
	}
	compressed := snappy.Encode(nil, data)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL+"/api/v1/push", bytes.NewReader(compressed))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	httpReq.Header.Set(w.config.TenantHeader, tenantID)
	if w.config.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+w.config.AuthToken)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("remote write failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

func formatBound(v float64) string {
	if math.IsInf(v, 1) {
		return "+Inf"
	}
	return fmt.Sprintf("%g", v)
}
