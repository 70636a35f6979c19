package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/finkargo/tip-analytics/internal/core"
)

const (
	CSVProviderName = "CSVProvider"

	DefaultCSVCacheTTL = 5 * time.Minute
)

// csvDocument is the combined payload served by /csv/analytics/{orgId}.
type csvDocument struct {
	Inventory      json.RawMessage `json:"inventory"`
	Sales          json.RawMessage `json:"sales"`
	Suppliers      json.RawMessage `json:"suppliers"`
	CrossReference json.RawMessage `json:"cross_reference"`
}

func (d csvDocument) slice(dataType core.DataType) json.RawMessage {
	switch dataType {
	case core.DataTypeInventory:
		return d.Inventory
	case core.DataTypeSales:
		return d.Sales
	case core.DataTypeSupplier:
		return d.Suppliers
	case core.DataTypeCrossReference:
		return d.CrossReference
	}
	return nil
}

type CSVConfig struct {
	HTTPConfig
	Priority int
	CacheTTL time.Duration
	Cache    ResponseCache
	Logger   *zap.Logger
}

// CSVProvider reads analytics from the remote CSV-processing service.
// Responses are cached per (endpoint, tenant) and dropped on upload.
type CSVProvider struct {
	http     *httpClient
	priority int
	ttl      time.Duration
	cache    ResponseCache
	logger   *zap.Logger
}

func NewCSVProvider(cfg CSVConfig) (*CSVProvider, error) {
	client, err := newHTTPClient("csv", cfg.HTTPConfig)
	if err != nil {
		return nil, err
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCSVCacheTTL
	}
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &CSVProvider{
		http:     client,
		priority: cfg.Priority,
		ttl:      cfg.CacheTTL,
		cache:    cfg.Cache,
		logger:   cfg.Logger,
	}, nil
}

func (p *CSVProvider) Name() string  { return CSVProviderName }
func (p *CSVProvider) Priority() int { return p.priority }

func (p *CSVProvider) CanHandle(dataType core.DataType) bool {
	switch dataType {
	case core.DataTypeInventory, core.DataTypeSales, core.DataTypeSupplier, core.DataTypeCrossReference:
		return true
	}
	return false
}

func (p *CSVProvider) IsAvailable(ctx context.Context) bool {
	if err := p.http.ping(ctx, "/health"); err != nil {
		p.logger.Debug("CSV service health check failed", zap.Error(err))
		return false
	}
	return true
}

func (p *CSVProvider) FetchData(ctx context.Context, tenantID string, dataType core.DataType) core.Result {
	if !p.CanHandle(dataType) {
		return core.Failure(CSVProviderName, "csv: unsupported data type %s", dataType)
	}

	endpoint := analyticsEndpoint(tenantID)
	key := cacheKey(endpoint, tenantID)

	body, hit := p.cache.Get(ctx, key)
	if !hit {
		var err error
		body, err = p.http.get(ctx, endpoint, nil)
		if err != nil {
			return core.Failure(CSVProviderName, "%v", err)
		}
	}

	raw, err := unwrap(body)
	if err != nil {
		return core.Failure(CSVProviderName, "csv: %v", err)
	}
	var doc csvDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return core.Failure(CSVProviderName, "csv: decode analytics: %v", err)
	}
	if !hit {
		p.cache.Set(ctx, key, body, p.ttl)
	}

	section := doc.slice(dataType)
	if len(section) == 0 || string(section) == "null" {
		return core.Failure(CSVProviderName, "csv: no %s data for tenant %s", dataType, tenantID)
	}
	data, err := core.DecodePayload(dataType, section)
	if err != nil {
		return core.Failure(CSVProviderName, "csv: decode %s: %v", dataType, err)
	}
	return core.Success(CSVProviderName, data)
}

// UploadCSVData forwards content to /csv/process and drops the tenant's cached analytics.
func (p *CSVProvider) UploadCSVData(ctx context.Context, tenantID, content string) core.UploadResult {
	body, err := p.http.postFile(ctx, "/csv/process", map[string]string{"orgId": tenantID}, "upload.csv", content)
	if err != nil {
		return core.UploadResult{Success: false, Message: err.Error()}
	}

	var resp struct {
		Success       *bool  `json:"success"`
		Message       string `json:"message"`
		Error         string `json:"error"`
		RowsProcessed int    `json:"rows_processed"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.UploadResult{Success: false, Message: fmt.Sprintf("csv: decode upload response: %v", err)}
	}
	if resp.Success != nil && !*resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		return core.UploadResult{Success: false, Message: "csv: " + msg}
	}

	p.Invalidate(ctx, tenantID)

	msg := resp.Message
	if msg == "" {
		msg = "forwarded to CSV service"
	}
	return core.UploadResult{Success: true, Message: msg, RowsProcessed: resp.RowsProcessed}
}

// Validate checks content against /csv/validate without storing it.
func (p *CSVProvider) Validate(ctx context.Context, content string) core.ValidationResult {
	body, err := p.http.postFile(ctx, "/csv/validate", nil, "upload.csv", content)
	if err != nil {
		return core.ValidationResult{Valid: false, Message: err.Error()}
	}
	raw, err := unwrap(body)
	if err != nil {
		return core.ValidationResult{Valid: false, Message: err.Error()}
	}
	var result core.ValidationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return core.ValidationResult{Valid: false, Message: fmt.Sprintf("csv: decode validation: %v", err)}
	}
	return result
}

// Invalidate drops every cached response for tenantID.
func (p *CSVProvider) Invalidate(ctx context.Context, tenantID string) {
	p.cache.Delete(ctx, cacheKey(analyticsEndpoint(tenantID), tenantID))
	p.logger.Debug("CSV cache invalidated", zap.String("tenant_id", tenantID))
}

func analyticsEndpoint(tenantID string) string {
	return "/csv/analytics/" + url.PathEscape(tenantID)
}

func cacheKey(endpoint, tenantID string) string {
	return "csv:" + endpoint + ":" + tenantID
}
