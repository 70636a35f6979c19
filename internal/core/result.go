package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// Result is the envelope every provider fetch returns.
// Data is set when Success is true, Error when it is false.
type Result struct {
	Success      bool      `json:"success"`
	Data         any       `json:"data,omitempty"`
	Error        string    `json:"error,omitempty"`
	Provider     string    `json:"provider"`
	FallbackUsed bool      `json:"fallback_used"`
	Timestamp    time.Time `json:"timestamp"`
}

func Success(provider string, data any) Result {
	return Result{
		Success:   true,
		Data:      data,
		Provider:  provider,
		Timestamp: time.Now().UTC(),
	}
}

func Failure(provider string, format string, args ...any) Result {
	return Result{
		Success:   false,
		Error:     fmt.Sprintf(format, args...),
		Provider:  provider,
		Timestamp: time.Now().UTC(),
	}
}

// DecodePayload unmarshals raw JSON into the concrete type served for dataType.
func DecodePayload(dataType DataType, raw json.RawMessage) (any, error) {
	switch dataType {
	case DataTypeInventory:
		var v InventoryData
		return &v, json.Unmarshal(raw, &v)
	case DataTypeSales:
		var v SalesData
		return &v, json.Unmarshal(raw, &v)
	case DataTypeSupplier:
		var v []SupplierData
		err := json.Unmarshal(raw, &v)
		return v, err
	case DataTypeCrossReference:
		var v CrossReferenceData
		return &v, json.Unmarshal(raw, &v)
	case DataTypeTriangle:
		var v TriangleData
		return &v, json.Unmarshal(raw, &v)
	case DataTypeMarketIntelligence:
		var v MarketIntelligenceData
		return &v, json.Unmarshal(raw, &v)
	default:
		return nil, fmt.Errorf("unknown data type %q", dataType)
	}
}

// PayloadMatches reports whether data has the concrete type served for dataType.
func PayloadMatches(dataType DataType, data any) bool {
	switch dataType {
	case DataTypeInventory:
		v, ok := data.(*InventoryData)
		return ok && v != nil
	case DataTypeSales:
		v, ok := data.(*SalesData)
		return ok && v != nil
	case DataTypeSupplier:
		_, ok := data.([]SupplierData)
		return ok
	case DataTypeCrossReference:
		v, ok := data.(*CrossReferenceData)
		return ok && v != nil
	case DataTypeTriangle:
		v, ok := data.(*TriangleData)
		return ok && v != nil
	case DataTypeMarketIntelligence:
		v, ok := data.(*MarketIntelligenceData)
		return ok && v != nil
	default:
		return false
	}
}

type UploadResult struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	UploadID      string   `json:"upload_id,omitempty"`
	RowsProcessed int      `json:"rows_processed"`
	SkippedRows   int      `json:"skipped_rows"`
	Columns       []string `json:"columns,omitempty"`
}

type ValidationResult struct {
	Valid          bool     `json:"valid"`
	Message        string   `json:"message"`
	TotalRows      int      `json:"total_rows"`
	ValidRows      int      `json:"valid_rows"`
	SkippedRows    int      `json:"skipped_rows"`
	Columns        []string `json:"columns"`
	MissingColumns []string `json:"missing_columns,omitempty"`
}

// UploadRecord is one entry of a tenant's upload log.
type UploadRecord struct {
	ID            string    `db:"id" json:"id"`
	TenantID      string    `db:"tenant_id" json:"tenant_id"`
	Success       bool      `db:"success" json:"success"`
	RowsProcessed int       `db:"rows_processed" json:"rows_processed"`
	SkippedRows   int       `db:"skipped_rows" json:"skipped_rows"`
	Message       string    `db:"message" json:"message"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
