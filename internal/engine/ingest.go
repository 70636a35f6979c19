package engine

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyContent   = errors.New("engine: empty content")
	ErrMissingColumns = errors.New("engine: missing required columns")
)

// Field is a logical column the engine understands.
type Field string

const (
	FieldSKU          Field = "sku"
	FieldProduct      Field = "product"
	FieldCategory     Field = "category"
	FieldSupplier     Field = "supplier"
	FieldQuantity     Field = "quantity"
	FieldReorderPoint Field = "reorder_point"
	FieldUnitCost     Field = "unit_cost"
	FieldUnitPrice    Field = "unit_price"
	FieldUnitsSold    Field = "units_sold"
	FieldOnTime       Field = "on_time"
	FieldQuality      Field = "quality_score"
	FieldLeadTime     Field = "lead_time_days"
)

// headerSynonyms maps each logical field to the header spellings seen in
// customer exports. Headers are normalised before lookup.
var headerSynonyms = map[Field][]string{
	FieldSKU:          {"sku", "product_code", "item_code", "code", "product_id", "codigo"},
	FieldProduct:      {"product", "product_name", "item", "item_name", "description", "name", "producto"},
	FieldCategory:     {"category", "product_category", "family", "product_family", "categoria"},
	FieldSupplier:     {"supplier", "vendor", "company", "supplier_name", "vendor_name", "provider", "proveedor"},
	FieldQuantity:     {"quantity", "stock", "on_hand", "qty", "stock_quantity", "current_stock", "inventory", "cantidad"},
	FieldReorderPoint: {"reorder_point", "min_stock", "minimum_stock", "safety_stock", "reorder_level"},
	FieldUnitCost:     {"unit_cost", "cost", "cost_price", "purchase_price", "costo"},
	FieldUnitPrice:    {"unit_price", "price", "sale_price", "selling_price", "precio"},
	FieldUnitsSold:    {"units_sold", "sold", "sales_qty", "quantity_sold", "sales_units", "ventas"},
	FieldOnTime:       {"on_time", "on_time_delivery", "delivered_on_time", "delivery_on_time", "ontime"},
	FieldQuality:      {"quality_score", "quality", "quality_rating", "calidad"},
	FieldLeadTime:     {"lead_time_days", "lead_time", "delivery_days", "leadtime"},
}

var synonymIndex = func() map[string]Field {
	idx := make(map[string]Field)
	for field, names := range headerSynonyms {
		for _, name := range names {
			idx[name] = field
		}
	}
	return idx
}()

// Record is one normalised row.
type Record struct {
	SKU          string
	Product      string
	Category     string
	Supplier     string
	Quantity     float64
	ReorderPoint float64
	UnitCost     float64
	UnitPrice    float64
	UnitsSold    float64

	// Delivered reports whether the row carries an on-time flag at all.
	Delivered bool
	OnTime    bool

	HasQuality bool
	Quality    float64

	HasLeadTime  bool
	LeadTimeDays float64
}

// ProductKey identifies the product a record belongs to.
func (r Record) ProductKey() string {
	if r.SKU != "" {
		return r.SKU
	}
	return strings.ToLower(r.Product)
}

// Dataset is an immutable, parsed tabular upload.
type Dataset struct {
	Records     []Record
	Columns     []Field
	TotalRows   int
	SkippedRows int
	ProcessedAt time.Time
}

func (d *Dataset) Has(field Field) bool {
	for _, f := range d.Columns {
		if f == field {
			return true
		}
	}
	return false
}

// Ingest parses raw delimited text. Rows with the wrong column count or
// unparseable values are skipped and counted in SkippedRows.
func (e *Engine) Ingest(content string) (*Dataset, error) {
	content = strings.TrimPrefix(content, "\ufeff")
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	reader := csv.NewReader(strings.NewReader(content))
	reader.Comma = detectDelimiter(content)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("engine: read header: %w", err)
	}

	columns := mapHeader(header)
	if _, ok := columns[FieldSKU]; !ok {
		if _, ok := columns[FieldProduct]; !ok {
			return nil, fmt.Errorf("%w: %s or %s", ErrMissingColumns, FieldSKU, FieldProduct)
		}
	}

	ds := &Dataset{ProcessedAt: time.Now().UTC()}
	for _, field := range fieldOrder {
		if _, ok := columns[field]; ok {
			ds.Columns = append(ds.Columns, field)
		}
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		ds.TotalRows++
		if err != nil {
			ds.SkippedRows++
			continue
		}
		if len(row) != len(header) {
			ds.SkippedRows++
			continue
		}

		rec, ok := parseRecord(row, columns)
		if !ok {
			ds.SkippedRows++
			continue
		}
		ds.Records = append(ds.Records, rec)
	}

	return ds, nil
}

// MissingColumns lists the optional logical fields a header does not provide.
func MissingColumns(ds *Dataset) []Field {
	var missing []Field
	for _, field := range fieldOrder {
		if !ds.Has(field) {
			missing = append(missing, field)
		}
	}
	return missing
}

var fieldOrder = []Field{
	FieldSKU, FieldProduct, FieldCategory, FieldSupplier, FieldQuantity, FieldReorderPoint,
	FieldUnitCost, FieldUnitPrice, FieldUnitsSold, FieldOnTime, FieldQuality, FieldLeadTime,
}

func mapHeader(header []string) map[Field]int {
	columns := make(map[Field]int)
	for i, name := range header {
		field, ok := synonymIndex[normalizeHeader(name)]
		if !ok {
			continue
		}
		if _, seen := columns[field]; !seen {
			columns[field] = i
		}
	}
	return columns
}

func normalizeHeader(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Trim(name, `"'`)
	replacer := strings.NewReplacer(" ", "_", "-", "_", ".", "_", "(", "", ")", "", "%", "")
	name = replacer.Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return strings.Trim(name, "_")
}

func detectDelimiter(content string) rune {
	line := content
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		line = content[:i]
	}
	best, bestCount := ',', strings.Count(line, ",")
	for _, d := range []rune{';', '\t', '|'} {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func parseRecord(row []string, columns map[Field]int) (Record, bool) {
	cell := func(f Field) string {
		if i, ok := columns[f]; ok {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	rec := Record{
		SKU:      cell(FieldSKU),
		Product:  cell(FieldProduct),
		Category: cell(FieldCategory),
		Supplier: cell(FieldSupplier),
	}
	if rec.SKU == "" && rec.Product == "" {
		return rec, false
	}

	numbers := []struct {
		field Field
		dst   *float64
	}{
		{FieldQuantity, &rec.Quantity},
		{FieldReorderPoint, &rec.ReorderPoint},
		{FieldUnitCost, &rec.UnitCost},
		{FieldUnitPrice, &rec.UnitPrice},
		{FieldUnitsSold, &rec.UnitsSold},
	}
	for _, n := range numbers {
		v, present, ok := parseNumber(cell(n.field))
		if !ok {
			return rec, false
		}
		if present {
			*n.dst = v
		}
	}

	if raw := cell(FieldOnTime); raw != "" {
		onTime, ok := parseBool(raw)
		if !ok {
			return rec, false
		}
		rec.Delivered = true
		rec.OnTime = onTime
	}

	q, present, ok := parseNumber(cell(FieldQuality))
	if !ok {
		return rec, false
	}
	if present {
		rec.HasQuality = true
		rec.Quality = clamp(q, 0, 100)
	}

	lt, present, ok := parseNumber(cell(FieldLeadTime))
	if !ok {
		return rec, false
	}
	if present {
		rec.HasLeadTime = true
		rec.LeadTimeDays = lt
	}

	return rec, true
}

// parseNumber returns (value, present, ok). Empty cells are absent, not malformed.
func parseNumber(raw string) (float64, bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, true
	}
	raw = strings.NewReplacer("$", "", "%", "", " ", "", "_", "").Replace(raw)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, false
	}
	return v, true, true
}

func parseBool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "si", "sí", "on_time", "on time":
		return true, true
	case "0", "false", "no", "n", "late":
		return false, true
	}
	return false, false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
