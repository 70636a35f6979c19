package core

import "time"

type DataType string

const (
	DataTypeInventory          DataType = "inventory"
	DataTypeSales              DataType = "sales"
	DataTypeSupplier           DataType = "supplier-performance"
	DataTypeCrossReference     DataType = "cross-reference"
	DataTypeTriangle           DataType = "triangle"
	DataTypeMarketIntelligence DataType = "market-intelligence"
)

// DataTypes lists every analytics slice a provider may serve.
var DataTypes = []DataType{
	DataTypeInventory,
	DataTypeSales,
	DataTypeSupplier,
	DataTypeCrossReference,
	DataTypeTriangle,
	DataTypeMarketIntelligence,
}

func (dt DataType) Valid() bool {
	for _, known := range DataTypes {
		if dt == known {
			return true
		}
	}
	return false
}

// Risk levels for supplier health scores
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

type InventoryData struct {
	TotalProducts       int                 `json:"total_products"`
	TotalStockUnits     float64             `json:"total_stock_units"`
	TotalInventoryValue float64             `json:"total_inventory_value"`
	AverageStockLevel   float64             `json:"average_stock_level"`
	LowStockItems       int                 `json:"low_stock_items"`
	OutOfStockItems     int                 `json:"out_of_stock_items"`
	StockoutRate        float64             `json:"stockout_rate"`
	InventoryTurnover   float64             `json:"inventory_turnover"`
	Categories          []CategoryInventory `json:"categories"`
	SkippedRows         int                 `json:"skipped_rows"`
	LastUpdated         time.Time           `json:"last_updated"`
}

type CategoryInventory struct {
	Category   string  `json:"category"`
	Products   int     `json:"products"`
	Units      float64 `json:"units"`
	Value      float64 `json:"value"`
	Percentage float64 `json:"percentage"`
}

type SalesData struct {
	TotalRevenue       float64         `json:"total_revenue"`
	TotalUnitsSold     float64         `json:"total_units_sold"`
	TotalOrders        int             `json:"total_orders"`
	AverageOrderValue  float64         `json:"average_order_value"`
	GrossMarginPercent float64         `json:"gross_margin_percent"`
	TopProducts        []ProductSales  `json:"top_products"`
	ByCategory         []CategorySales `json:"by_category"`
	SkippedRows        int             `json:"skipped_rows"`
	LastUpdated        time.Time       `json:"last_updated"`
}

type ProductSales struct {
	SKU     string  `json:"sku"`
	Name    string  `json:"name"`
	Units   float64 `json:"units"`
	Revenue float64 `json:"revenue"`
	Share   float64 `json:"share"`
}

type CategorySales struct {
	Category string  `json:"category"`
	Units    float64 `json:"units"`
	Revenue  float64 `json:"revenue"`
	Share    float64 `json:"share"`
}

type SupplierData struct {
	SupplierName        string  `json:"supplier_name"`
	TotalOrders         int     `json:"total_orders"`
	OnTimeDeliveries    int     `json:"on_time_deliveries"`
	LateDeliveries      int     `json:"late_deliveries"`
	DeliveryPerformance float64 `json:"delivery_performance"`
	AverageQuality      float64 `json:"average_quality"`
	AverageLeadTimeDays float64 `json:"average_lead_time_days"`
	TotalSpend          float64 `json:"total_spend"`
	ProductCount        int     `json:"product_count"`
	HealthScore         float64 `json:"health_score"`
	RiskLevel           string  `json:"risk_level"`
}

type CrossReferenceData struct {
	TotalRecords     int           `json:"total_records"`
	LateDeliveries   int           `json:"late_deliveries"`
	QualityIssues    int           `json:"quality_issues"`
	StockoutRisks    int           `json:"stockout_risks"`
	LateDeliveryRate float64       `json:"late_delivery_rate"`
	QualityIssueRate float64       `json:"quality_issue_rate"`
	Discrepancies    []Discrepancy `json:"discrepancies"`
	SkippedRows      int           `json:"skipped_rows"`
	LastUpdated      time.Time     `json:"last_updated"`
}

type Discrepancy struct {
	Type         string `json:"type"`
	SupplierName string `json:"supplier_name"`
	SKU          string `json:"sku"`
	Description  string `json:"description"`
	Severity     string `json:"severity"`
}

// TriangleData scores the inventory / sales / supplier triangle on a 0-100 scale.
type TriangleData struct {
	ServiceLevel        float64   `json:"service_level"`
	InventoryTurnover   float64   `json:"inventory_turnover"`
	TurnoverScore       float64   `json:"turnover_score"`
	SupplierReliability float64   `json:"supplier_reliability"`
	OverallScore        float64   `json:"overall_score"`
	SkippedRows         int       `json:"skipped_rows"`
	LastUpdated         time.Time `json:"last_updated"`
}

type MarketIntelligenceData struct {
	MarketTrend     string          `json:"market_trend"`
	DemandIndex     float64         `json:"demand_index"`
	PriceIndex      float64         `json:"price_index"`
	CompetitorCount int             `json:"competitor_count"`
	Segments        []MarketSegment `json:"segments"`
	LastUpdated     time.Time       `json:"last_updated"`
}

type MarketSegment struct {
	Name        string  `json:"name"`
	Growth      float64 `json:"growth"`
	MarketShare float64 `json:"market_share"`
}
