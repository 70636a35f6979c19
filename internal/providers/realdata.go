package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/finkargo/tip-analytics/internal/core"
	"github.com/finkargo/tip-analytics/internal/engine"
)

const (
	RealDataProviderName = "RealDataProvider"

	RealDataPriority = 0
)

// DatasetStore persists raw uploads so datasets survive a restart.
type DatasetStore interface {
	SaveDataset(ctx context.Context, tenantID, content string) error
	LoadDatasets(ctx context.Context) (map[string]string, error)
}

// TenantDataset is one tenant's upload. It is never mutated after creation.
type TenantDataset struct {
	Content    string
	Dataset    *engine.Dataset
	UploadedAt time.Time
}

type datasetMap map[string]*TenantDataset

// RealDataProvider computes analytics from datasets uploaded per tenant.
// Uploads replace the whole tenant map pointer, so a fetch always reads a
// consistent snapshot.
type RealDataProvider struct {
	engine *engine.Engine
	store  DatasetStore
	logger *zap.Logger

	writeMu  sync.Mutex
	datasets atomic.Pointer[datasetMap]
}

func NewRealDataProvider(eng *engine.Engine, store DatasetStore, logger *zap.Logger) *RealDataProvider {
	if eng == nil {
		eng = engine.New(engine.DefaultOptions())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &RealDataProvider{engine: eng, store: store, logger: logger}
	empty := datasetMap{}
	p.datasets.Store(&empty)
	return p
}

func (p *RealDataProvider) Name() string  { return RealDataProviderName }
func (p *RealDataProvider) Priority() int { return RealDataPriority }

func (p *RealDataProvider) CanHandle(dataType core.DataType) bool {
	switch dataType {
	case core.DataTypeInventory, core.DataTypeSales, core.DataTypeSupplier,
		core.DataTypeCrossReference, core.DataTypeTriangle:
		return true
	}
	return false
}

// IsAvailable is a coarse liveness signal: true once any tenant has data.
// Use HasData for the per-tenant answer.
func (p *RealDataProvider) IsAvailable(context.Context) bool {
	return len(*p.datasets.Load()) > 0
}

func (p *RealDataProvider) HasData(tenantID string) bool {
	_, ok := (*p.datasets.Load())[tenantID]
	return ok
}

// Dataset returns the tenant's current snapshot, or nil.
func (p *RealDataProvider) Dataset(tenantID string) *TenantDataset {
	return (*p.datasets.Load())[tenantID]
}

func (p *RealDataProvider) FetchData(_ context.Context, tenantID string, dataType core.DataType) core.Result {
	snapshot := p.Dataset(tenantID)
	if snapshot == nil {
		return core.Failure(RealDataProviderName, "realdata: no data uploaded for tenant %s", tenantID)
	}

	report := p.engine.Compute(snapshot.Dataset)
	data, err := report.Slice(dataType)
	if err != nil {
		return core.Failure(RealDataProviderName, "realdata: %v", err)
	}
	return core.Success(RealDataProviderName, data)
}

// UploadCSVData ingests content and replaces the tenant's dataset.
func (p *RealDataProvider) UploadCSVData(ctx context.Context, tenantID, content string) core.UploadResult {
	ds, err := p.engine.Ingest(content)
	if err != nil {
		return core.UploadResult{Success: false, Message: err.Error()}
	}
	if len(ds.Records) == 0 {
		return core.UploadResult{
			Success:     false,
			Message:     fmt.Sprintf("no valid rows found (%d skipped)", ds.SkippedRows),
			SkippedRows: ds.SkippedRows,
		}
	}

	message := p.engine.Compute(ds).Summary()

	if p.store != nil {
		if err := p.store.SaveDataset(ctx, tenantID, content); err != nil {
			p.logger.Warn("Failed to persist dataset",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
			message += "; not persisted"
		}
	}

	p.swap(tenantID, &TenantDataset{Content: content, Dataset: ds, UploadedAt: time.Now().UTC()})

	p.logger.Info("Dataset uploaded",
		zap.String("tenant_id", tenantID),
		zap.Int("rows", len(ds.Records)),
		zap.Int("skipped_rows", ds.SkippedRows))

	return core.UploadResult{
		Success:       true,
		Message:       message,
		RowsProcessed: len(ds.Records),
		SkippedRows:   ds.SkippedRows,
		Columns:       fieldNames(ds.Columns),
	}
}

// Validate parses content without storing it.
func (p *RealDataProvider) Validate(_ context.Context, content string) core.ValidationResult {
	ds, err := p.engine.Ingest(content)
	if err != nil {
		return core.ValidationResult{Valid: false, Message: err.Error()}
	}
	result := core.ValidationResult{
		Valid:          len(ds.Records) > 0,
		TotalRows:      ds.TotalRows,
		ValidRows:      len(ds.Records),
		SkippedRows:    ds.SkippedRows,
		Columns:        fieldNames(ds.Columns),
		MissingColumns: fieldNames(engine.MissingColumns(ds)),
	}
	if result.Valid {
		result.Message = fmt.Sprintf("%d of %d rows valid", result.ValidRows, result.TotalRows)
	} else {
		result.Message = "no valid rows found"
	}
	return result
}

// Rehydrate loads persisted datasets. Tenants whose content no longer parses are skipped.
func (p *RealDataProvider) Rehydrate(ctx context.Context) (int, error) {
	if p.store == nil {
		return 0, nil
	}
	contents, err := p.store.LoadDatasets(ctx)
	if err != nil {
		return 0, fmt.Errorf("realdata: load datasets: %w", err)
	}

	loaded := 0
	for tenantID, content := range contents {
		ds, err := p.engine.Ingest(content)
		if err != nil {
			p.logger.Warn("Skipping stored dataset",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
			continue
		}
		p.swap(tenantID, &TenantDataset{Content: content, Dataset: ds, UploadedAt: ds.ProcessedAt})
		loaded++
	}
	return loaded, nil
}

func (p *RealDataProvider) swap(tenantID string, snapshot *TenantDataset) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	current := *p.datasets.Load()
	next := make(datasetMap, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[tenantID] = snapshot
	p.datasets.Store(&next)
}

func fieldNames(fields []engine.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}
