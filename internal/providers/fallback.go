package providers

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/finkargo/tip-analytics/internal/core"
	"github.com/finkargo/tip-analytics/internal/engine"
)

const (
	FallbackProviderName = "FallbackProvider"

	DefaultFallbackPriority = 10
)

var (
	syntheticSuppliers = []string{
		"Andes Textiles", "Pacific Components", "Caribe Logistics", "Northwind Traders",
		"Sierra Packaging", "Delta Industrial", "Magdalena Foods", "Orinoco Metals",
	}
	syntheticCategories = []string{"Electronics", "Apparel", "Food & Beverage", "Industrial", "Home"}
	syntheticSegments   = []string{"Retail", "Wholesale", "E-commerce", "Export"}
	marketTrends        = []string{"growing", "stable", "contracting"}
)

// FallbackProvider serves deterministic synthetic data. The same tenant
// always gets the same numbers. It never fails for a known data type.
type FallbackProvider struct {
	priority int
	scorer   *engine.Engine
}

func NewFallbackProvider(priority int) *FallbackProvider {
	return &FallbackProvider{priority: priority, scorer: engine.New(engine.DefaultOptions())}
}

func (p *FallbackProvider) Name() string    { return FallbackProviderName }
func (p *FallbackProvider) Priority() int   { return p.priority }
func (p *FallbackProvider) Synthetic() bool { return true }

func (p *FallbackProvider) CanHandle(dataType core.DataType) bool {
	return dataType.Valid()
}

func (p *FallbackProvider) IsAvailable(context.Context) bool { return true }

func (p *FallbackProvider) FetchData(_ context.Context, tenantID string, dataType core.DataType) core.Result {
	rng := seededRand(tenantID, dataType)
	now := time.Now().UTC()

	var data any
	switch dataType {
	case core.DataTypeInventory:
		data = syntheticInventory(rng, now)
	case core.DataTypeSales:
		data = syntheticSales(rng, now)
	case core.DataTypeSupplier:
		data = p.syntheticSuppliers(rng)
	case core.DataTypeCrossReference:
		data = syntheticCrossReference(rng, now)
	case core.DataTypeTriangle:
		data = syntheticTriangle(rng, now)
	case core.DataTypeMarketIntelligence:
		data = syntheticMarket(rng, now)
	default:
		return core.Failure(FallbackProviderName, "fallback: unknown data type %s", dataType)
	}

	result := core.Success(FallbackProviderName, data)
	result.FallbackUsed = true
	return result
}

// seededRand derives a generator from the tenant id so repeated calls agree.
func seededRand(tenantID string, dataType core.DataType) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(tenantID))
	tenantSeed := h.Sum64()

	h.Reset()
	h.Write([]byte(dataType))
	return rand.New(rand.NewPCG(tenantSeed, h.Sum64()))
}

func between(rng *rand.Rand, lo, hi float64) float64 {
	return round2(lo + rng.Float64()*(hi-lo))
}

func intBetween(rng *rand.Rand, lo, hi int) int {
	return lo + rng.IntN(hi-lo+1)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func syntheticInventory(rng *rand.Rand, now time.Time) *core.InventoryData {
	inv := &core.InventoryData{
		TotalProducts: intBetween(rng, 80, 400),
		LastUpdated:   now,
	}
	inv.OutOfStockItems = intBetween(rng, 0, inv.TotalProducts/20)
	inv.LowStockItems = intBetween(rng, 1, inv.TotalProducts/8)
	inv.AverageStockLevel = between(rng, 20, 150)
	inv.TotalStockUnits = round2(inv.AverageStockLevel * float64(inv.TotalProducts))
	inv.InventoryTurnover = between(rng, 2, 9)
	inv.StockoutRate = round2(float64(inv.OutOfStockItems) * 100 / float64(inv.TotalProducts))

	remaining := 100.0
	for i, name := range syntheticCategories {
		share := remaining
		if i < len(syntheticCategories)-1 {
			share = between(rng, 5, remaining/2)
		}
		remaining -= share
		value := between(rng, 10_000, 250_000)
		inv.TotalInventoryValue += value
		inv.Categories = append(inv.Categories, core.CategoryInventory{
			Category:   name,
			Products:   intBetween(rng, 5, 80),
			Units:      between(rng, 500, 10_000),
			Value:      value,
			Percentage: round2(share),
		})
	}
	inv.TotalInventoryValue = round2(inv.TotalInventoryValue)
	return inv
}

func syntheticSales(rng *rand.Rand, now time.Time) *core.SalesData {
	s := &core.SalesData{
		TotalOrders:        intBetween(rng, 200, 5_000),
		GrossMarginPercent: between(rng, 12, 45),
		LastUpdated:        now,
	}
	s.AverageOrderValue = between(rng, 40, 900)
	s.TotalRevenue = round2(s.AverageOrderValue * float64(s.TotalOrders))
	s.TotalUnitsSold = float64(s.TotalOrders * intBetween(rng, 1, 12))

	for i := 0; i < 5; i++ {
		revenue := between(rng, 1_000, s.TotalRevenue/6)
		s.TopProducts = append(s.TopProducts, core.ProductSales{
			SKU:     "SKU-" + string(rune('A'+i)) + "00",
			Name:    syntheticCategories[i] + " item",
			Units:   float64(intBetween(rng, 10, 800)),
			Revenue: revenue,
			Share:   round2(revenue * 100 / s.TotalRevenue),
		})
	}
	for _, name := range syntheticCategories {
		revenue := between(rng, 1_000, s.TotalRevenue/4)
		s.ByCategory = append(s.ByCategory, core.CategorySales{
			Category: name,
			Units:    float64(intBetween(rng, 50, 2_000)),
			Revenue:  revenue,
			Share:    round2(revenue * 100 / s.TotalRevenue),
		})
	}
	return s
}

func (p *FallbackProvider) syntheticSuppliers(rng *rand.Rand) []core.SupplierData {
	n := intBetween(rng, 3, 6)
	picked := rng.Perm(len(syntheticSuppliers))[:n]

	out := make([]core.SupplierData, 0, n)
	for _, idx := range picked {
		orders := intBetween(rng, 10, 120)
		onTime := intBetween(rng, orders/2, orders)
		delivery := round2(float64(onTime) * 100 / float64(orders))
		quality := between(rng, 55, 99)
		score := p.scorer.HealthScore(delivery, quality)
		out = append(out, core.SupplierData{
			SupplierName:        syntheticSuppliers[idx],
			TotalOrders:         orders,
			OnTimeDeliveries:    onTime,
			LateDeliveries:      orders - onTime,
			DeliveryPerformance: delivery,
			AverageQuality:      quality,
			AverageLeadTimeDays: between(rng, 5, 45),
			TotalSpend:          between(rng, 5_000, 400_000),
			ProductCount:        intBetween(rng, 2, 40),
			HealthScore:         score,
			RiskLevel:           engine.RiskLevel(score),
		})
	}
	return out
}

func syntheticCrossReference(rng *rand.Rand, now time.Time) *core.CrossReferenceData {
	x := &core.CrossReferenceData{
		TotalRecords:  intBetween(rng, 100, 1_000),
		LastUpdated:   now,
		Discrepancies: []core.Discrepancy{},
	}
	x.LateDeliveries = intBetween(rng, 0, x.TotalRecords/5)
	x.QualityIssues = intBetween(rng, 0, x.TotalRecords/10)
	x.StockoutRisks = intBetween(rng, 0, x.LateDeliveries)
	x.LateDeliveryRate = round2(float64(x.LateDeliveries) * 100 / float64(x.TotalRecords))
	x.QualityIssueRate = round2(float64(x.QualityIssues) * 100 / float64(x.TotalRecords))
	n := intBetween(rng, 1, 4)
	for i := 0; i < n; i++ {
		x.Discrepancies = append(x.Discrepancies, core.Discrepancy{
			Type:         "late_delivery",
			SupplierName: syntheticSuppliers[rng.IntN(len(syntheticSuppliers))],
			Description:  "synthetic late delivery",
			Severity:     "medium",
		})
	}
	return x
}

func syntheticTriangle(rng *rand.Rand, now time.Time) *core.TriangleData {
	t := &core.TriangleData{
		ServiceLevel:        between(rng, 80, 99),
		InventoryTurnover:   between(rng, 2, 9),
		SupplierReliability: between(rng, 60, 95),
		LastUpdated:         now,
	}
	t.TurnoverScore = round2(math.Min(t.InventoryTurnover/engine.DefaultTargetTurnover*100, 100))
	t.OverallScore = round2((t.ServiceLevel + t.TurnoverScore + t.SupplierReliability) / 3)
	return t
}

func syntheticMarket(rng *rand.Rand, now time.Time) *core.MarketIntelligenceData {
	m := &core.MarketIntelligenceData{
		MarketTrend:     marketTrends[rng.IntN(len(marketTrends))],
		DemandIndex:     between(rng, 60, 140),
		PriceIndex:      between(rng, 80, 120),
		CompetitorCount: intBetween(rng, 3, 40),
		LastUpdated:     now,
	}
	remaining := 100.0
	for i, name := range syntheticSegments {
		share := remaining
		if i < len(syntheticSegments)-1 {
			share = between(rng, 5, remaining/2)
		}
		remaining -= share
		m.Segments = append(m.Segments, core.MarketSegment{
			Name:        name,
			Growth:      between(rng, -10, 25),
			MarketShare: round2(share),
		})
	}
	return m
}
