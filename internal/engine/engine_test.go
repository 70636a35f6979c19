package engine_test

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finkargo/tip-analytics/internal/core"
	"github.com/finkargo/tip-analytics/internal/engine"
)

// tenRowDataset has 8 on-time deliveries out of 10 and an average quality of 90.
const tenRowDataset = `sku,product,category,supplier,quantity,unit_cost,unit_price,units_sold,on_time,quality_score,lead_time_days
A1,Widget,Hardware,Acme,20,5,9,10,yes,95,10
A2,Gadget,Hardware,Acme,0,7,12,4,yes,85,12
A3,Bolt,Hardware,Acme,5,1,2,50,yes,90,8
A4,Nut,Hardware,Acme,100,1,2,30,yes,90,8
A5,Cable,Electrical,Acme,15,3,6,20,no,80,14
A6,Plug,Electrical,Acme,30,2,4,10,yes,100,9
A7,Switch,Electrical,Acme,8,4,8,5,yes,90,11
A8,Fuse,Electrical,Acme,40,1,3,25,yes,85,7
A9,Relay,Electrical,Acme,12,6,11,6,no,95,15
A10,Socket,Electrical,Acme,25,2,5,12,yes,90,6
`

func TestSupplierHealthScore_MatchesHandComputedValues(t *testing.T) {
	e := engine.New(engine.DefaultOptions())

	ds, err := e.Ingest(tenRowDataset)
	require.NoError(t, err)
	require.Len(t, ds.Records, 10)

	report := e.Compute(ds)
	require.Len(t, report.Suppliers, 1)

	acme := report.Suppliers[0]
	assert.Equal(t, "Acme", acme.SupplierName)
	assert.Equal(t, 10, acme.TotalOrders)
	assert.Equal(t, 8, acme.OnTimeDeliveries)
	assert.Equal(t, 2, acme.LateDeliveries)
	assert.Equal(t, 80.0, acme.DeliveryPerformance)
	assert.Equal(t, 90.0, acme.AverageQuality)
	// 0.6 * 80 + 0.4 * 90
	assert.Equal(t, 84.0, acme.HealthScore)
	assert.Equal(t, core.RiskMedium, acme.RiskLevel)
	assert.Equal(t, 10.0, acme.AverageLeadTimeDays)
	assert.Equal(t, 10, acme.ProductCount)
}

func TestIngest_SkipsMalformedRows(t *testing.T) {
	lines := []string{"sku,supplier,quantity,unit_cost"}
	for i := 0; i < 8; i++ {
		lines = append(lines, fmt.Sprintf("S%d,Acme,10,2", i))
	}
	lines = append(lines, "S8,Acme,10")         // missing column
	lines = append(lines, "S9,Acme,10,2,extra") // extra column

	e := engine.New(engine.Options{})
	ds, err := e.Ingest(strings.Join(lines, "\n"))
	require.NoError(t, err)

	assert.Len(t, ds.Records, 8)
	assert.Equal(t, 10, ds.TotalRows)
	assert.Equal(t, 2, ds.SkippedRows)

	report := e.Compute(ds)
	assert.Equal(t, 8, report.Inventory.TotalProducts)
	assert.Equal(t, 80.0, report.Inventory.TotalStockUnits)
	assert.Equal(t, 160.0, report.Inventory.TotalInventoryValue)
	assert.Equal(t, 2, report.Inventory.SkippedRows)
	assert.Equal(t, 8, report.CrossReference.TotalRecords)
}

func TestIngest_SkipsUnparseableNumbers(t *testing.T) {
	content := "sku,quantity,on_time\nA,10,yes\nB,ten,yes\nC,5,maybe\nD,,no\n"

	ds, err := engine.New(engine.Options{}).Ingest(content)
	require.NoError(t, err)

	require.Len(t, ds.Records, 2)
	assert.Equal(t, "A", ds.Records[0].SKU)
	assert.Equal(t, "D", ds.Records[1].SKU)
	assert.Zero(t, ds.Records[1].Quantity)
	assert.True(t, ds.Records[1].Delivered)
	assert.False(t, ds.Records[1].OnTime)
	assert.Equal(t, 2, ds.SkippedRows)
}

func TestIngest_SkipsNonFiniteNumbers(t *testing.T) {
	content := "sku,supplier,quantity,unit_cost\nA,Acme,10,2\nB,Acme,NaN,2\nC,Acme,5,Inf\nD,Acme,-Infinity,1\nE,Acme,3,1\n"

	e := engine.New(engine.Options{})
	ds, err := e.Ingest(content)
	require.NoError(t, err)

	require.Len(t, ds.Records, 2)
	assert.Equal(t, 3, ds.SkippedRows)

	report := e.Compute(ds)
	assert.Equal(t, 13.0, report.Inventory.TotalStockUnits)
	assert.Equal(t, 3, report.Inventory.SkippedRows)

	_, err = json.Marshal(report.Inventory)
	assert.NoError(t, err)
}

func TestSupplierHealthScore_UsesPresentComponents(t *testing.T) {
	e := engine.New(engine.DefaultOptions())

	qualityOnly := "sku,supplier,quantity,quality_score\nA,Acme,10,95\nB,Acme,4,95\n"
	ds, err := e.Ingest(qualityOnly)
	require.NoError(t, err)
	report := e.Compute(ds)
	require.Len(t, report.Suppliers, 1)
	assert.Equal(t, 95.0, report.Suppliers[0].HealthScore)
	assert.Equal(t, core.RiskLow, report.Suppliers[0].RiskLevel)

	deliveryOnly := "sku,supplier,quantity,on_time\nA,Globex,10,yes\nB,Globex,4,no\n"
	ds, err = e.Ingest(deliveryOnly)
	require.NoError(t, err)
	report = e.Compute(ds)
	require.Len(t, report.Suppliers, 1)
	assert.Equal(t, 50.0, report.Suppliers[0].HealthScore)
	assert.Equal(t, 50.0, report.Suppliers[0].DeliveryPerformance)
}

func TestIngest_HeaderSynonyms(t *testing.T) {
	content := "Item Code;Vendor;Stock;Cost Price;Quality\nX1;Globex;4;2.5;60\nX2;Initech;0;1;75\n"

	ds, err := engine.New(engine.Options{}).Ingest(content)
	require.NoError(t, err)

	require.Len(t, ds.Records, 2)
	assert.Equal(t, "Globex", ds.Records[0].Supplier)
	assert.Equal(t, 4.0, ds.Records[0].Quantity)
	assert.Equal(t, 2.5, ds.Records[0].UnitCost)
	assert.True(t, ds.Has(engine.FieldSupplier))
	assert.True(t, ds.Has(engine.FieldQuality))
	assert.False(t, ds.Has(engine.FieldOnTime))
}

func TestIngest_CompanyMapsToSupplier(t *testing.T) {
	ds, err := engine.New(engine.Options{}).Ingest("product,company\nWidget,Acme\n")
	require.NoError(t, err)
	require.Len(t, ds.Records, 1)
	assert.Equal(t, "Acme", ds.Records[0].Supplier)
}

func TestIngest_Errors(t *testing.T) {
	e := engine.New(engine.Options{})

	_, err := e.Ingest("   \n")
	assert.ErrorIs(t, err, engine.ErrEmptyContent)

	_, err = e.Ingest("supplier,quantity\nAcme,3\n")
	assert.ErrorIs(t, err, engine.ErrMissingColumns)
}

func TestCompute_HeaderOnlyDatasetReturnsZeros(t *testing.T) {
	e := engine.New(engine.Options{})
	ds, err := e.Ingest("sku,supplier,quantity,units_sold,unit_price\n")
	require.NoError(t, err)

	report := e.Compute(ds)
	assert.Zero(t, report.Inventory.TotalProducts)
	assert.Zero(t, report.Inventory.StockoutRate)
	assert.Zero(t, report.Inventory.AverageStockLevel)
	assert.Zero(t, report.Sales.AverageOrderValue)
	assert.Zero(t, report.Sales.GrossMarginPercent)
	assert.Empty(t, report.Suppliers)
	assert.Zero(t, report.CrossReference.LateDeliveryRate)
	assert.Zero(t, report.Triangle.OverallScore)
}

func TestCompute_InventoryAndSales(t *testing.T) {
	e := engine.New(engine.DefaultOptions())
	ds, err := e.Ingest(tenRowDataset)
	require.NoError(t, err)

	report := e.Compute(ds)

	inv := report.Inventory
	assert.Equal(t, 10, inv.TotalProducts)
	assert.Equal(t, 1, inv.OutOfStockItems)
	// A3 (5) and A7 (8) are under the default threshold of 10.
	assert.Equal(t, 2, inv.LowStockItems)
	assert.Equal(t, 10.0, inv.StockoutRate)
	require.Len(t, inv.Categories, 2)

	sales := report.Sales
	assert.Equal(t, 10, sales.TotalOrders)
	assert.Equal(t, 172.0, sales.TotalUnitsSold)
	require.Len(t, sales.TopProducts, engine.DefaultTopProducts)
	assert.GreaterOrEqual(t, sales.TopProducts[0].Revenue, sales.TopProducts[1].Revenue)
	assert.Greater(t, sales.GrossMarginPercent, 0.0)
	assert.LessOrEqual(t, sales.GrossMarginPercent, 100.0)
}

func TestCompute_CrossReferenceCounts(t *testing.T) {
	e := engine.New(engine.DefaultOptions())
	content := "sku,supplier,quantity,on_time,quality_score\n" +
		"A,Acme,0,no,95\n" +
		"B,Acme,50,no,40\n" +
		"C,Globex,50,yes,65\n" +
		"D,Globex,50,yes,99\n"
	ds, err := e.Ingest(content)
	require.NoError(t, err)

	x := e.Compute(ds).CrossReference
	assert.Equal(t, 4, x.TotalRecords)
	assert.Equal(t, 2, x.LateDeliveries)
	assert.Equal(t, 2, x.QualityIssues)
	assert.Equal(t, 1, x.StockoutRisks)
	assert.Equal(t, 50.0, x.LateDeliveryRate)
	assert.Equal(t, 50.0, x.QualityIssueRate)
	require.Len(t, x.Discrepancies, 4)
	assert.Equal(t, "high", x.Discrepancies[0].Severity)
}

func TestRiskLevel(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{100, core.RiskLow},
		{85, core.RiskLow},
		{84.99, core.RiskMedium},
		{70, core.RiskMedium},
		{69.5, core.RiskHigh},
		{50, core.RiskHigh},
		{49.99, core.RiskCritical},
		{0, core.RiskCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, engine.RiskLevel(tt.score), "score %v", tt.score)
	}
}

func TestReportSlice(t *testing.T) {
	e := engine.New(engine.Options{})
	ds, err := e.Ingest(tenRowDataset)
	require.NoError(t, err)
	report := e.Compute(ds)

	for _, dt := range []core.DataType{core.DataTypeInventory, core.DataTypeSales, core.DataTypeSupplier, core.DataTypeCrossReference, core.DataTypeTriangle} {
		data, err := report.Slice(dt)
		require.NoError(t, err, dt)
		assert.NotNil(t, data, dt)
	}

	_, err = report.Slice(core.DataTypeMarketIntelligence)
	assert.Error(t, err)
}
