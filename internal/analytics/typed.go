package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/finkargo/tip-analytics/internal/core"
)

// Response is the typed view of a successful fetch.
type Response[T any] struct {
	Data         T         `json:"data"`
	Provider     string    `json:"provider"`
	FallbackUsed bool      `json:"fallback_used"`
	Timestamp    time.Time `json:"timestamp"`
}

func fetchAs[T any](ctx context.Context, s *Service, tenantID string, dataType core.DataType) (Response[T], error) {
	res, err := s.fetch(ctx, tenantID, dataType)
	if err != nil {
		return Response[T]{Timestamp: res.Timestamp}, err
	}
	data, ok := res.Data.(T)
	if !ok {
		return Response[T]{Provider: res.Provider, Timestamp: res.Timestamp},
			fmt.Errorf("analytics: %s returned %T for %s", res.Provider, res.Data, dataType)
	}
	return Response[T]{
		Data:         data,
		Provider:     res.Provider,
		FallbackUsed: res.FallbackUsed,
		Timestamp:    res.Timestamp,
	}, nil
}

func (s *Service) GetInventoryAnalytics(ctx context.Context, tenantID string) (Response[*core.InventoryData], error) {
	return fetchAs[*core.InventoryData](ctx, s, tenantID, core.DataTypeInventory)
}

func (s *Service) GetSalesAnalytics(ctx context.Context, tenantID string) (Response[*core.SalesData], error) {
	return fetchAs[*core.SalesData](ctx, s, tenantID, core.DataTypeSales)
}

func (s *Service) GetSupplierAnalytics(ctx context.Context, tenantID string) (Response[[]core.SupplierData], error) {
	return fetchAs[[]core.SupplierData](ctx, s, tenantID, core.DataTypeSupplier)
}

func (s *Service) GetCrossReferenceAnalytics(ctx context.Context, tenantID string) (Response[*core.CrossReferenceData], error) {
	return fetchAs[*core.CrossReferenceData](ctx, s, tenantID, core.DataTypeCrossReference)
}

func (s *Service) GetTriangleAnalytics(ctx context.Context, tenantID string) (Response[*core.TriangleData], error) {
	return fetchAs[*core.TriangleData](ctx, s, tenantID, core.DataTypeTriangle)
}

func (s *Service) GetMarketIntelligence(ctx context.Context, tenantID string) (Response[*core.MarketIntelligenceData], error) {
	return fetchAs[*core.MarketIntelligenceData](ctx, s, tenantID, core.DataTypeMarketIntelligence)
}

// AllAnalytics holds the four core slices fetched together. A slice whose
// fetch failed is zero-valued and has an entry in Errors.
type AllAnalytics struct {
	Inventory      Response[*core.InventoryData]      `json:"inventory"`
	Sales          Response[*core.SalesData]          `json:"sales"`
	Suppliers      Response[[]core.SupplierData]      `json:"suppliers"`
	CrossReference Response[*core.CrossReferenceData] `json:"cross_reference"`
	Errors         map[core.DataType]string           `json:"errors,omitempty"`
}

func (a AllAnalytics) AnyError() bool {
	return len(a.Errors) > 0
}

// FallbackUsed reports whether any slice came from synthetic data.
func (a AllAnalytics) FallbackUsed() bool {
	return a.Inventory.FallbackUsed || a.Sales.FallbackUsed || a.Suppliers.FallbackUsed || a.CrossReference.FallbackUsed
}

// GetAllAnalytics fetches inventory, sales, supplier and cross-reference
// analytics concurrently. A failed slice does not cancel the others; the
// returned error is the first failure.
func (s *Service) GetAllAnalytics(ctx context.Context, tenantID string) (AllAnalytics, error) {
	var (
		out AllAnalytics
		mu  sync.Mutex
		g   errgroup.Group
	)

	record := func(dt core.DataType, err error) error {
		if err == nil {
			return nil
		}
		mu.Lock()
		if out.Errors == nil {
			out.Errors = make(map[core.DataType]string)
		}
		out.Errors[dt] = err.Error()
		mu.Unlock()
		return fmt.Errorf("%s: %w", dt, err)
	}

	g.Go(func() error {
		res, err := s.GetInventoryAnalytics(ctx, tenantID)
		out.Inventory = res
		return record(core.DataTypeInventory, err)
	})
	g.Go(func() error {
		res, err := s.GetSalesAnalytics(ctx, tenantID)
		out.Sales = res
		return record(core.DataTypeSales, err)
	})
	g.Go(func() error {
		res, err := s.GetSupplierAnalytics(ctx, tenantID)
		out.Suppliers = res
		return record(core.DataTypeSupplier, err)
	})
	g.Go(func() error {
		res, err := s.GetCrossReferenceAnalytics(ctx, tenantID)
		out.CrossReference = res
		return record(core.DataTypeCrossReference, err)
	})

	err := g.Wait()
	return out, err
}
