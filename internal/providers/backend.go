package providers

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/finkargo/tip-analytics/internal/core"
)

const BackendProviderName = "BackendProvider"

var backendPaths = map[core.DataType]string{
	core.DataTypeInventory:          "/analytics/inventory",
	core.DataTypeSales:              "/analytics/sales",
	core.DataTypeSupplier:           "/analytics/suppliers",
	core.DataTypeCrossReference:     "/analytics/cross-reference",
	core.DataTypeTriangle:           "/analytics/triangle",
	core.DataTypeMarketIntelligence: "/analytics/market-intelligence",
}

// BackendProvider reads analytics from the primary REST backend. It does not cache.
type BackendProvider struct {
	http     *httpClient
	priority int
	logger   *zap.Logger
}

func NewBackendProvider(cfg HTTPConfig, priority int, logger *zap.Logger) (*BackendProvider, error) {
	client, err := newHTTPClient("backend", cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackendProvider{http: client, priority: priority, logger: logger}, nil
}

func (p *BackendProvider) Name() string  { return BackendProviderName }
func (p *BackendProvider) Priority() int { return p.priority }

func (p *BackendProvider) CanHandle(dataType core.DataType) bool {
	_, ok := backendPaths[dataType]
	return ok
}

func (p *BackendProvider) IsAvailable(ctx context.Context) bool {
	if err := p.http.ping(ctx, "/health"); err != nil {
		p.logger.Debug("Backend health check failed", zap.Error(err))
		return false
	}
	return true
}

func (p *BackendProvider) FetchData(ctx context.Context, tenantID string, dataType core.DataType) core.Result {
	path, ok := backendPaths[dataType]
	if !ok {
		return core.Failure(BackendProviderName, "backend: unsupported data type %s", dataType)
	}

	body, err := p.http.get(ctx, path, url.Values{"orgId": {tenantID}})
	if err != nil {
		return core.Failure(BackendProviderName, "%v", err)
	}

	data, err := decodeData(dataType, body)
	if err != nil {
		return core.Failure(BackendProviderName, "backend: decode %s: %v", dataType, err)
	}
	return core.Success(BackendProviderName, data)
}
