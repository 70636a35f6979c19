package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/finkargo/tip-analytics/internal/core"
)

var (
	ErrNoCapableProvider  = errors.New("no provider for dataType")
	ErrProvidersExhausted = errors.New("all providers failed")
	ErrProviderTimeout    = errors.New("provider timed out")
	ErrDuplicateProvider  = errors.New("provider already registered")
	ErrNoUploader         = errors.New("no provider accepts uploads")
)

// Provider is one interchangeable analytics source.
type Provider interface {
	Name() string
	// Priority orders providers; lower is tried first.
	Priority() int
	CanHandle(dataType core.DataType) bool
	// IsAvailable is a cheap liveness check without side effects.
	IsAvailable(ctx context.Context) bool
	FetchData(ctx context.Context, tenantID string, dataType core.DataType) core.Result
}

// Synthetic is implemented by providers whose data is generated rather than real.
type Synthetic interface {
	Synthetic() bool
}

// Uploader is implemented by providers that accept tabular uploads.
type Uploader interface {
	UploadCSVData(ctx context.Context, tenantID, content string) core.UploadResult
}

// Validator is implemented by providers that can check an upload without storing it.
type Validator interface {
	Validate(ctx context.Context, content string) core.ValidationResult
}

// CacheInvalidator is implemented by providers holding per-tenant caches.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, tenantID string)
}

// Recorder receives orchestration metrics.
type Recorder interface {
	RecordFetch(tenantID, provider string, dataType core.DataType, outcome string, duration time.Duration)
	RecordExhausted(tenantID string, dataType core.DataType)
	RecordProviderStatus(provider string, status core.ProviderStatus)
	RecordHealth(status core.HealthStatus)
	RecordUpload(tenantID string, success bool, skippedRows int)
}

// Fetch outcomes reported to the Recorder.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

type nopRecorder struct{}

func (nopRecorder) RecordFetch(string, string, core.DataType, string, time.Duration) {}

func (nopRecorder) RecordExhausted(string, core.DataType) {}

func (nopRecorder) RecordProviderStatus(string, core.ProviderStatus) {}

func (nopRecorder) RecordHealth(core.HealthStatus) {}

func (nopRecorder) RecordUpload(string, bool, int) {}
