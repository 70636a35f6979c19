package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/finkargo/tip-analytics/internal/analytics"
	"github.com/finkargo/tip-analytics/internal/core"
)

const defaultMaxUploadBytes = 32 << 20

// UploadLog records and lists upload outcomes.
type UploadLog interface {
	RecordUpload(ctx context.Context, tenantID string, result core.UploadResult) error
	ListUploads(ctx context.Context, tenantID string, limit int) ([]core.UploadRecord, error)
}

// ProviderForgetter drops per-provider state when a provider is removed.
type ProviderForgetter interface {
	ForgetProvider(name string)
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

type Options struct {
	Service *analytics.Service
	// Uploads is optional; without it uploads are not logged.
	Uploads UploadLog
	Checks  map[string]ReadinessCheck
	Metrics ProviderForgetter
	Logger  *zap.Logger

	MaxUploadBytes int64
}

type Handler struct {
	service        *analytics.Service
	uploads        UploadLog
	checks         map[string]ReadinessCheck
	metrics        ProviderForgetter
	logger         *zap.Logger
	maxUploadBytes int64
}

func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		service:        opts.Service,
		uploads:        opts.Uploads,
		checks:         opts.Checks,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		maxUploadBytes: opts.MaxUploadBytes,
	}
}
