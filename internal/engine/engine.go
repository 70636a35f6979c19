package engine

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/finkargo/tip-analytics/internal/core"
)

const (
	DefaultLowStockThreshold     = 10
	DefaultQualityIssueThreshold = 70
	DefaultDeliveryWeight        = 60
	DefaultQualityWeight         = 40
	DefaultTargetTurnover        = 4
	DefaultTopProducts           = 5
	DefaultMaxDiscrepancies      = 50
)

// Risk thresholds on the 0-100 supplier health score.
const (
	LowRiskScore    = 85
	MediumRiskScore = 70
	HighRiskScore   = 50
)

type Options struct {
	// LowStockThreshold applies to products without a reorder point.
	LowStockThreshold     float64
	QualityIssueThreshold float64
	// DeliveryWeight and QualityWeight are percentages summing to 100.
	DeliveryWeight   float64
	QualityWeight    float64
	TargetTurnover   float64
	TopProducts      int
	MaxDiscrepancies int
}

func DefaultOptions() Options {
	return Options{
		LowStockThreshold:     DefaultLowStockThreshold,
		QualityIssueThreshold: DefaultQualityIssueThreshold,
		DeliveryWeight:        DefaultDeliveryWeight,
		QualityWeight:         DefaultQualityWeight,
		TargetTurnover:        DefaultTargetTurnover,
		TopProducts:           DefaultTopProducts,
		MaxDiscrepancies:      DefaultMaxDiscrepancies,
	}
}

// Engine turns a tenant dataset into analytics aggregates. It keeps no
// per-tenant state; callers hold the datasets.
type Engine struct {
	opts Options
}

func New(opts Options) *Engine {
	def := DefaultOptions()
	if opts.LowStockThreshold <= 0 {
		opts.LowStockThreshold = def.LowStockThreshold
	}
	if opts.QualityIssueThreshold <= 0 {
		opts.QualityIssueThreshold = def.QualityIssueThreshold
	}
	if opts.DeliveryWeight <= 0 && opts.QualityWeight <= 0 {
		opts.DeliveryWeight = def.DeliveryWeight
		opts.QualityWeight = def.QualityWeight
	}
	if opts.TargetTurnover <= 0 {
		opts.TargetTurnover = def.TargetTurnover
	}
	if opts.TopProducts <= 0 {
		opts.TopProducts = def.TopProducts
	}
	if opts.MaxDiscrepancies <= 0 {
		opts.MaxDiscrepancies = def.MaxDiscrepancies
	}
	return &Engine{opts: opts}
}

// Report holds every aggregate computed from one dataset.
type Report struct {
	Inventory      *core.InventoryData
	Sales          *core.SalesData
	Suppliers      []core.SupplierData
	CrossReference *core.CrossReferenceData
	Triangle       *core.TriangleData
	ProcessedRows  int
	SkippedRows    int
	ProcessedAt    time.Time
}

// Slice returns the aggregate served for dataType.
func (r *Report) Slice(dataType core.DataType) (any, error) {
	switch dataType {
	case core.DataTypeInventory:
		return r.Inventory, nil
	case core.DataTypeSales:
		return r.Sales, nil
	case core.DataTypeSupplier:
		return r.Suppliers, nil
	case core.DataTypeCrossReference:
		return r.CrossReference, nil
	case core.DataTypeTriangle:
		return r.Triangle, nil
	}
	return nil, fmt.Errorf("engine: data type %q not computed from tabular data", dataType)
}

// Compute runs the full computation over ds.
func (e *Engine) Compute(ds *Dataset) *Report {
	products := aggregateProducts(ds.Records)

	r := &Report{
		ProcessedRows: len(ds.Records),
		SkippedRows:   ds.SkippedRows,
		ProcessedAt:   ds.ProcessedAt,
	}
	r.Inventory = e.inventory(ds, products)
	r.Sales = e.sales(ds, products)
	r.Suppliers = e.suppliers(ds)
	r.CrossReference = e.crossReference(ds, products)
	r.Triangle = e.triangle(ds, r.Inventory, r.Suppliers)
	return r
}

type productAgg struct {
	key          string
	sku          string
	name         string
	category     string
	quantity     float64
	reorderPoint float64
	value        float64
	unitsSold    float64
	revenue      float64
}

func aggregateProducts(records []Record) map[string]*productAgg {
	products := make(map[string]*productAgg)
	for _, rec := range records {
		key := rec.ProductKey()
		p, ok := products[key]
		if !ok {
			p = &productAgg{key: key, sku: rec.SKU, name: rec.Product, category: categoryOf(rec)}
			products[key] = p
		}
		p.quantity += rec.Quantity
		p.value += rec.Quantity * rec.UnitCost
		p.unitsSold += rec.UnitsSold
		p.revenue += rec.UnitsSold * rec.UnitPrice
		if rec.ReorderPoint > p.reorderPoint {
			p.reorderPoint = rec.ReorderPoint
		}
	}
	return products
}

func (e *Engine) lowStock(p *productAgg) bool {
	if p.quantity <= 0 {
		return false
	}
	if p.reorderPoint > 0 {
		return p.quantity <= p.reorderPoint
	}
	return p.quantity < e.opts.LowStockThreshold
}

func (e *Engine) inventory(ds *Dataset, products map[string]*productAgg) *core.InventoryData {
	inv := &core.InventoryData{
		TotalProducts: len(products),
		SkippedRows:   ds.SkippedRows,
		LastUpdated:   ds.ProcessedAt,
		Categories:    []core.CategoryInventory{},
	}

	var cogs float64
	for _, rec := range ds.Records {
		cogs += rec.UnitsSold * rec.UnitCost
	}

	categories := make(map[string]*core.CategoryInventory)
	for _, p := range products {
		inv.TotalStockUnits += p.quantity
		inv.TotalInventoryValue += p.value
		switch {
		case p.quantity <= 0:
			inv.OutOfStockItems++
		case e.lowStock(p):
			inv.LowStockItems++
		}

		c, ok := categories[p.category]
		if !ok {
			c = &core.CategoryInventory{Category: p.category}
			categories[p.category] = c
		}
		c.Products++
		c.Units += p.quantity
		c.Value += p.value
	}

	for _, c := range categories {
		c.Percentage = percentage(c.Value, inv.TotalInventoryValue)
		c.Value = round2(c.Value)
		inv.Categories = append(inv.Categories, *c)
	}
	sort.Slice(inv.Categories, func(i, j int) bool {
		if inv.Categories[i].Value != inv.Categories[j].Value {
			return inv.Categories[i].Value > inv.Categories[j].Value
		}
		return inv.Categories[i].Category < inv.Categories[j].Category
	})

	inv.AverageStockLevel = round2(safeDiv(inv.TotalStockUnits, float64(inv.TotalProducts)))
	inv.StockoutRate = percentage(float64(inv.OutOfStockItems), float64(inv.TotalProducts))
	inv.InventoryTurnover = round2(safeDiv(cogs, inv.TotalInventoryValue))
	inv.TotalInventoryValue = round2(inv.TotalInventoryValue)
	return inv
}

func (e *Engine) sales(ds *Dataset, products map[string]*productAgg) *core.SalesData {
	s := &core.SalesData{
		SkippedRows: ds.SkippedRows,
		LastUpdated: ds.ProcessedAt,
		TopProducts: []core.ProductSales{},
		ByCategory:  []core.CategorySales{},
	}

	var cogs float64
	categories := make(map[string]*core.CategorySales)
	for _, rec := range ds.Records {
		if rec.UnitsSold <= 0 {
			continue
		}
		revenue := rec.UnitsSold * rec.UnitPrice
		s.TotalOrders++
		s.TotalUnitsSold += rec.UnitsSold
		s.TotalRevenue += revenue
		cogs += rec.UnitsSold * rec.UnitCost

		cat := categoryOf(rec)
		c, ok := categories[cat]
		if !ok {
			c = &core.CategorySales{Category: cat}
			categories[cat] = c
		}
		c.Units += rec.UnitsSold
		c.Revenue += revenue
	}

	for _, p := range products {
		if p.unitsSold <= 0 {
			continue
		}
		s.TopProducts = append(s.TopProducts, core.ProductSales{
			SKU:     p.sku,
			Name:    p.name,
			Units:   p.unitsSold,
			Revenue: round2(p.revenue),
			Share:   percentage(p.revenue, s.TotalRevenue),
		})
	}
	sort.Slice(s.TopProducts, func(i, j int) bool {
		if s.TopProducts[i].Revenue != s.TopProducts[j].Revenue {
			return s.TopProducts[i].Revenue > s.TopProducts[j].Revenue
		}
		return s.TopProducts[i].SKU+s.TopProducts[i].Name < s.TopProducts[j].SKU+s.TopProducts[j].Name
	})
	if len(s.TopProducts) > e.opts.TopProducts {
		s.TopProducts = s.TopProducts[:e.opts.TopProducts]
	}

	for _, c := range categories {
		c.Share = percentage(c.Revenue, s.TotalRevenue)
		c.Revenue = round2(c.Revenue)
		s.ByCategory = append(s.ByCategory, *c)
	}
	sort.Slice(s.ByCategory, func(i, j int) bool {
		if s.ByCategory[i].Revenue != s.ByCategory[j].Revenue {
			return s.ByCategory[i].Revenue > s.ByCategory[j].Revenue
		}
		return s.ByCategory[i].Category < s.ByCategory[j].Category
	})

	s.AverageOrderValue = round2(safeDiv(s.TotalRevenue, float64(s.TotalOrders)))
	s.GrossMarginPercent = percentage(s.TotalRevenue-cogs, s.TotalRevenue)
	s.TotalRevenue = round2(s.TotalRevenue)
	return s
}

type supplierAgg struct {
	name       string
	orders     int
	onTime     int
	late       int
	qualitySum float64
	qualityN   int
	leadSum    float64
	leadN      int
	spend      float64
	products   map[string]struct{}
}

func (e *Engine) suppliers(ds *Dataset) []core.SupplierData {
	aggs := make(map[string]*supplierAgg)
	for _, rec := range ds.Records {
		if rec.Supplier == "" {
			continue
		}
		a, ok := aggs[rec.Supplier]
		if !ok {
			a = &supplierAgg{name: rec.Supplier, products: make(map[string]struct{})}
			aggs[rec.Supplier] = a
		}
		a.orders++
		if rec.Delivered {
			if rec.OnTime {
				a.onTime++
			} else {
				a.late++
			}
		}
		if rec.HasQuality {
			a.qualitySum += rec.Quality
			a.qualityN++
		}
		if rec.HasLeadTime {
			a.leadSum += rec.LeadTimeDays
			a.leadN++
		}
		a.spend += rec.Quantity * rec.UnitCost
		a.products[rec.ProductKey()] = struct{}{}
	}

	out := make([]core.SupplierData, 0, len(aggs))
	for _, a := range aggs {
		delivery := percentage(float64(a.onTime), float64(a.onTime+a.late))
		quality := round2(safeDiv(a.qualitySum, float64(a.qualityN)))
		score := e.supplierScore(delivery, a.onTime+a.late > 0, quality, a.qualityN > 0)
		out = append(out, core.SupplierData{
			SupplierName:        a.name,
			TotalOrders:         a.orders,
			OnTimeDeliveries:    a.onTime,
			LateDeliveries:      a.late,
			DeliveryPerformance: delivery,
			AverageQuality:      quality,
			AverageLeadTimeDays: round2(safeDiv(a.leadSum, float64(a.leadN))),
			TotalSpend:          round2(a.spend),
			ProductCount:        len(a.products),
			HealthScore:         score,
			RiskLevel:           RiskLevel(score),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HealthScore != out[j].HealthScore {
			return out[i].HealthScore > out[j].HealthScore
		}
		return out[i].SupplierName < out[j].SupplierName
	})
	return out
}

// HealthScore combines delivery performance and quality, both 0-100.
func (e *Engine) HealthScore(deliveryPerformance, quality float64) float64 {
	total := e.opts.DeliveryWeight + e.opts.QualityWeight
	return round2((e.opts.DeliveryWeight*deliveryPerformance + e.opts.QualityWeight*quality) / total)
}

// supplierScore weighs only the components the dataset carries for a supplier.
// A supplier with neither delivery nor quality data scores 0.
func (e *Engine) supplierScore(delivery float64, hasDelivery bool, quality float64, hasQuality bool) float64 {
	switch {
	case hasDelivery && hasQuality:
		return e.HealthScore(delivery, quality)
	case hasDelivery:
		return round2(delivery)
	case hasQuality:
		return round2(quality)
	default:
		return 0
	}
}

func RiskLevel(score float64) string {
	switch {
	case score >= LowRiskScore:
		return core.RiskLow
	case score >= MediumRiskScore:
		return core.RiskMedium
	case score >= HighRiskScore:
		return core.RiskHigh
	default:
		return core.RiskCritical
	}
}

func (e *Engine) crossReference(ds *Dataset, products map[string]*productAgg) *core.CrossReferenceData {
	x := &core.CrossReferenceData{
		TotalRecords:  len(ds.Records),
		SkippedRows:   ds.SkippedRows,
		LastUpdated:   ds.ProcessedAt,
		Discrepancies: []core.Discrepancy{},
	}

	var delivered, rated int
	for _, rec := range ds.Records {
		p := products[rec.ProductKey()]
		atRisk := p.quantity <= 0 || e.lowStock(p)

		if rec.Delivered {
			delivered++
			if !rec.OnTime {
				x.LateDeliveries++
				severity := "medium"
				if atRisk {
					x.StockoutRisks++
					severity = "high"
				}
				x.Discrepancies = append(x.Discrepancies, core.Discrepancy{
					Type:         "late_delivery",
					SupplierName: rec.Supplier,
					SKU:          rec.SKU,
					Description:  fmt.Sprintf("late delivery of %s", displayName(rec)),
					Severity:     severity,
				})
			}
		}

		if rec.HasQuality {
			rated++
			if rec.Quality < e.opts.QualityIssueThreshold {
				x.QualityIssues++
				severity := "medium"
				if rec.Quality < HighRiskScore {
					severity = "high"
				}
				x.Discrepancies = append(x.Discrepancies, core.Discrepancy{
					Type:         "quality_issue",
					SupplierName: rec.Supplier,
					SKU:          rec.SKU,
					Description:  fmt.Sprintf("quality score %.1f below %.0f for %s", rec.Quality, e.opts.QualityIssueThreshold, displayName(rec)),
					Severity:     severity,
				})
			}
		}
	}

	sort.SliceStable(x.Discrepancies, func(i, j int) bool {
		a, b := x.Discrepancies[i], x.Discrepancies[j]
		if a.Severity != b.Severity {
			return a.Severity == "high"
		}
		return a.SupplierName < b.SupplierName
	})
	if len(x.Discrepancies) > e.opts.MaxDiscrepancies {
		x.Discrepancies = x.Discrepancies[:e.opts.MaxDiscrepancies]
	}

	x.LateDeliveryRate = percentage(float64(x.LateDeliveries), float64(delivered))
	x.QualityIssueRate = percentage(float64(x.QualityIssues), float64(rated))
	return x
}

func (e *Engine) triangle(ds *Dataset, inv *core.InventoryData, suppliers []core.SupplierData) *core.TriangleData {
	t := &core.TriangleData{
		InventoryTurnover: inv.InventoryTurnover,
		SkippedRows:       ds.SkippedRows,
		LastUpdated:       ds.ProcessedAt,
	}
	if inv.TotalProducts > 0 {
		t.ServiceLevel = round2(100 - inv.StockoutRate)
	}
	t.TurnoverScore = round2(math.Min(safeDiv(inv.InventoryTurnover, e.opts.TargetTurnover)*100, 100))

	var sum float64
	for _, s := range suppliers {
		sum += s.HealthScore
	}
	t.SupplierReliability = round2(safeDiv(sum, float64(len(suppliers))))
	t.OverallScore = round2((t.ServiceLevel + t.TurnoverScore + t.SupplierReliability) / 3)
	return t
}

func categoryOf(rec Record) string {
	if rec.Category == "" {
		return "Uncategorized"
	}
	return rec.Category
}

func displayName(rec Record) string {
	if rec.Product != "" {
		return rec.Product
	}
	return rec.SKU
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// percentage returns part/total on a 0-100 scale, rounded to 2 decimals.
func percentage(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return round2(part * 100 / total)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Summary is a one-line description used in upload messages.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d rows processed", r.ProcessedRows)
	if r.SkippedRows > 0 {
		fmt.Fprintf(&b, ", %d skipped", r.SkippedRows)
	}
	fmt.Fprintf(&b, ", %d suppliers", len(r.Suppliers))
	return b.String()
}
