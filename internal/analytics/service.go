package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finkargo/tip-analytics/internal/core"
)

const (
	DefaultHealthInterval  = 30 * time.Second
	DefaultProviderTimeout = 10 * time.Second
)

type Options struct {
	HealthInterval  time.Duration
	ProviderTimeout time.Duration
	Logger          *zap.Logger
	Recorder        Recorder
}

// Service dispatches analytics queries across a priority-ordered provider
// chain and tracks provider health.
type Service struct {
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time

	mu        sync.RWMutex
	providers []Provider

	healthMu sync.RWMutex
	statuses map[string]core.ProviderStatus
	snapshot core.HealthStatus

	sweepMu sync.Mutex
}

func NewService(providers []Provider, opts Options) *Service {
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultProviderTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	s := &Service{
		interval: opts.HealthInterval,
		timeout:  opts.ProviderTimeout,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		now:      time.Now,
		statuses: make(map[string]core.ProviderStatus),
	}

	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if seen[p.Name()] {
			s.logger.Warn("Duplicate provider ignored", zap.String("provider", p.Name()))
			continue
		}
		seen[p.Name()] = true
		s.providers = append(s.providers, p)
	}
	sort.SliceStable(s.providers, func(i, j int) bool {
		return s.providers[i].Priority() < s.providers[j].Priority()
	})

	s.snapshot = s.buildSnapshot(s.providers, time.Time{})
	return s
}

// FetchWithFallback returns the first successful result among providers able
// to serve dataType, trying them strictly in priority order.
func (s *Service) FetchWithFallback(ctx context.Context, tenantID string, dataType core.DataType) core.Result {
	res, _ := s.fetch(ctx, tenantID, dataType)
	return res
}

func (s *Service) fetch(ctx context.Context, tenantID string, dataType core.DataType) (core.Result, error) {
	candidates := s.candidates(dataType)
	if len(candidates) == 0 {
		err := fmt.Errorf("%w %s", ErrNoCapableProvider, dataType)
		return core.Failure("", "%v", err), err
	}

	var tried []string
	for _, p := range candidates {
		name := p.Name()
		tried = append(tried, name)

		start := s.now()
		res, err := call(ctx, s.timeout, name, func(ctx context.Context) core.Result {
			return p.FetchData(ctx, tenantID, dataType)
		})
		elapsed := s.now().Sub(start)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return core.Failure(name, "request cancelled: %v", ctxErr), ctxErr
		}

		switch {
		case err != nil:
			outcome := OutcomeError
			if errors.Is(err, ErrProviderTimeout) {
				outcome = OutcomeTimeout
			}
			s.recorder.RecordFetch(tenantID, name, dataType, outcome, elapsed)
			s.markStatus(name, core.ProviderOffline)
			s.logger.Warn("Provider fetch failed",
				zap.String("provider", name),
				zap.String("tenant_id", tenantID),
				zap.String("data_type", string(dataType)),
				zap.Duration("latency", elapsed),
				zap.Error(err))

		case !res.Success:
			s.recorder.RecordFetch(tenantID, name, dataType, OutcomeFailure, elapsed)
			s.markStatus(name, core.ProviderDegraded)
			s.logger.Warn("Provider returned failure",
				zap.String("provider", name),
				zap.String("tenant_id", tenantID),
				zap.String("data_type", string(dataType)),
				zap.String("error", res.Error))

		case !core.PayloadMatches(dataType, res.Data):
			s.recorder.RecordFetch(tenantID, name, dataType, OutcomeFailure, elapsed)
			s.markStatus(name, core.ProviderDegraded)
			s.logger.Warn("Provider returned unexpected payload",
				zap.String("provider", name),
				zap.String("tenant_id", tenantID),
				zap.String("data_type", string(dataType)),
				zap.String("payload_type", fmt.Sprintf("%T", res.Data)))

		default:
			s.recorder.RecordFetch(tenantID, name, dataType, OutcomeSuccess, elapsed)
			s.markStatus(name, core.ProviderOnline)
			res.Provider = name
			res.Error = ""
			if syn, ok := p.(Synthetic); ok && syn.Synthetic() {
				res.FallbackUsed = true
			}
			if res.Timestamp.IsZero() {
				res.Timestamp = s.now().UTC()
			}
			return res, nil
		}
	}

	s.recorder.RecordExhausted(tenantID, dataType)
	s.logger.Error("All providers failed",
		zap.String("tenant_id", tenantID),
		zap.String("data_type", string(dataType)),
		zap.Strings("tried", tried))

	err := fmt.Errorf("%w (tried: %s)", ErrProvidersExhausted, strings.Join(tried, ", "))
	return core.Failure("", "%v", err), err
}

func (s *Service) candidates(dataType core.DataType) []Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Provider
	for _, p := range s.providers {
		if p.CanHandle(dataType) {
			out = append(out, p)
		}
	}
	return out
}

func (s *Service) providerList() []Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Provider(nil), s.providers...)
}

// AddProvider registers p at its priority position. Equal priorities keep
// registration order.
func (s *Service) AddProvider(p Provider) error {
	s.mu.Lock()
	for _, existing := range s.providers {
		if existing.Name() == p.Name() {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicateProvider, p.Name())
		}
	}
	idx := sort.Search(len(s.providers), func(i int) bool {
		return s.providers[i].Priority() > p.Priority()
	})
	s.providers = append(s.providers, nil)
	copy(s.providers[idx+1:], s.providers[idx:])
	s.providers[idx] = p
	s.mu.Unlock()

	s.refreshSnapshot()
	s.logger.Info("Provider added",
		zap.String("provider", p.Name()),
		zap.Int("priority", p.Priority()))
	return nil
}

// RemoveProvider unregisters the named provider and reports whether it existed.
func (s *Service) RemoveProvider(name string) bool {
	s.mu.Lock()
	removed := false
	for i, p := range s.providers {
		if p.Name() == name {
			s.providers = append(s.providers[:i], s.providers[i+1:]...)
			removed = true
			break
		}
	}
	s.mu.Unlock()
	if !removed {
		return false
	}

	s.healthMu.Lock()
	delete(s.statuses, name)
	s.healthMu.Unlock()

	s.refreshSnapshot()
	s.logger.Info("Provider removed", zap.String("provider", name))
	return true
}

// Providers lists registered providers in dispatch order.
func (s *Service) Providers() []core.ProviderInfo {
	providers := s.providerList()

	s.healthMu.RLock()
	defer s.healthMu.RUnlock()

	out := make([]core.ProviderInfo, len(providers))
	for i, p := range providers {
		syn, ok := p.(Synthetic)
		out[i] = core.ProviderInfo{
			Name:      p.Name(),
			Priority:  p.Priority(),
			Status:    s.statusLocked(p.Name()),
			Primary:   i == 0,
			Synthetic: ok && syn.Synthetic(),
		}
	}
	return out
}

// UploadTabularData ingests content with the highest-priority uploader.
// Only when that ingest succeeds is the content forwarded to the remaining
// uploaders; their failures are reported in the message but do not fail the
// upload.
func (s *Service) UploadTabularData(ctx context.Context, tenantID, content string) core.UploadResult {
	if strings.TrimSpace(tenantID) == "" {
		return core.UploadResult{Success: false, Message: "tenant id is required"}
	}

	var uploaders []Provider
	for _, p := range s.providerList() {
		if _, ok := p.(Uploader); ok {
			uploaders = append(uploaders, p)
		}
	}
	if len(uploaders) == 0 {
		return core.UploadResult{Success: false, Message: ErrNoUploader.Error()}
	}

	upload := func(p Provider) core.UploadResult {
		u := p.(Uploader)
		res, err := call(ctx, s.timeout, p.Name(), func(ctx context.Context) core.UploadResult {
			return u.UploadCSVData(ctx, tenantID, content)
		})
		if err != nil {
			res = core.UploadResult{Success: false, Message: err.Error()}
		}
		return res
	}

	local := upload(uploaders[0])
	result := core.UploadResult{
		Success:       local.Success,
		Message:       local.Message,
		RowsProcessed: local.RowsProcessed,
		SkippedRows:   local.SkippedRows,
		Columns:       local.Columns,
	}
	if !local.Success {
		s.logger.Warn("Upload rejected",
			zap.String("provider", uploaders[0].Name()),
			zap.String("tenant_id", tenantID),
			zap.String("message", local.Message))
	} else {
		result.UploadID = newUploadID()
		messages := []string{fmt.Sprintf("%s: %s", uploaders[0].Name(), local.Message)}
		for _, p := range uploaders[1:] {
			res := upload(p)
			if !res.Success {
				s.logger.Warn("Upload forward failed",
					zap.String("provider", p.Name()),
					zap.String("tenant_id", tenantID),
					zap.String("message", res.Message))
			}
			messages = append(messages, fmt.Sprintf("%s: %s", p.Name(), res.Message))
		}
		result.Message = strings.Join(messages, "; ")
		s.invalidate(ctx, tenantID)
	}

	s.recorder.RecordUpload(tenantID, result.Success, result.SkippedRows)
	s.logger.Info("Tabular upload processed",
		zap.String("tenant_id", tenantID),
		zap.Bool("success", result.Success),
		zap.String("upload_id", result.UploadID),
		zap.Int("rows", result.RowsProcessed),
		zap.Int("skipped_rows", result.SkippedRows))
	return result
}

// ValidateTabularData checks content with the highest-priority validator.
func (s *Service) ValidateTabularData(ctx context.Context, content string) core.ValidationResult {
	for _, p := range s.providerList() {
		if v, ok := p.(Validator); ok {
			res, err := call(ctx, s.timeout, p.Name(), func(ctx context.Context) core.ValidationResult {
				return v.Validate(ctx, content)
			})
			if err != nil {
				return core.ValidationResult{Valid: false, Message: err.Error()}
			}
			return res
		}
	}
	return core.ValidationResult{Valid: false, Message: "no provider validates uploads"}
}

func newUploadID() string {
	return uuid.NewString()
}

func (s *Service) invalidate(ctx context.Context, tenantID string) {
	for _, p := range s.providerList() {
		if inv, ok := p.(CacheInvalidator); ok {
			inv.Invalidate(ctx, tenantID)
		}
	}
}

// call runs fn under the per-provider deadline. A panic in fn is returned
// as an error, and a deadline hit returns ErrProviderTimeout without waiting
// for fn.
func call[T any](ctx context.Context, timeout time.Duration, name string, fn func(context.Context) T) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%s: panic: %v", name, r)}
			}
		}()
		done <- outcome{value: fn(ctx)}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %s after %s", ErrProviderTimeout, name, timeout)
		}
		return zero, ctx.Err()
	}
}
