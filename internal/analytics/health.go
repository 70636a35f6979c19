package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/finkargo/tip-analytics/internal/core"
)

// Aggregate derives overall health from per-provider statuses:
// healthy when at least 80% are online, critical below 40%.
func Aggregate(statuses []core.ProviderStatus) core.OverallHealth {
	total := len(statuses)
	if total == 0 {
		return core.HealthCritical
	}
	online := 0
	for _, st := range statuses {
		if st == core.ProviderOnline {
			online++
		}
	}

	switch {
	case online*10 >= total*8:
		return core.HealthHealthy
	case online*10 < total*4:
		return core.HealthCritical
	default:
		return core.HealthDegraded
	}
}

// Start runs a health sweep immediately and then on every interval until
// ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info("Starting health checks",
		zap.Duration("interval", s.interval),
		zap.Int("providers", len(s.providerList())))

	s.CheckHealth(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping health checks")
			return
		case <-ticker.C:
			s.CheckHealth(ctx)
		}
	}
}

// CheckHealth checks every provider and stores a fresh snapshot.
func (s *Service) CheckHealth(ctx context.Context) core.HealthStatus {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	providers := s.providerList()
	results := make([]core.ProviderStatus, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			ok, err := call(ctx, s.timeout, p.Name(), p.IsAvailable)
			if err != nil || !ok {
				results[i] = core.ProviderOffline
				s.logger.Debug("Provider unavailable",
					zap.String("provider", p.Name()),
					zap.Error(err))
				return
			}
			results[i] = core.ProviderOnline
		}(i, p)
	}
	wg.Wait()

	current := s.providerList()

	s.healthMu.Lock()
	previous := s.snapshot.OverallHealth
	for i, p := range providers {
		s.statuses[p.Name()] = results[i]
	}
	s.pruneLocked(current)
	s.snapshot = s.buildSnapshot(current, s.now().UTC())
	snap := copySnapshot(s.snapshot)
	s.healthMu.Unlock()

	for i, p := range providers {
		s.recorder.RecordProviderStatus(p.Name(), results[i])
	}
	s.recorder.RecordHealth(snap)

	s.logger.Debug("Health sweep completed",
		zap.String("overall_health", string(snap.OverallHealth)),
		zap.Bool("fallback_active", snap.FallbackActive))
	if previous != snap.OverallHealth {
		s.logger.Info("Overall health changed",
			zap.String("from", string(previous)),
			zap.String("to", string(snap.OverallHealth)))
	}
	return snap
}

// GetHealthStatus serves the last snapshot while it is younger than the
// sweep interval and runs a new sweep otherwise.
func (s *Service) GetHealthStatus(ctx context.Context) core.HealthStatus {
	s.healthMu.RLock()
	fresh := !s.snapshot.LastCheck.IsZero() && s.now().Sub(s.snapshot.LastCheck) < s.interval
	snap := copySnapshot(s.snapshot)
	s.healthMu.RUnlock()

	if fresh {
		return snap
	}
	return s.CheckHealth(ctx)
}

// Snapshot returns the last computed health without probing providers.
func (s *Service) Snapshot() core.HealthStatus {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return copySnapshot(s.snapshot)
}

func (s *Service) markStatus(name string, status core.ProviderStatus) {
	providers := s.providerList()

	s.healthMu.Lock()
	previous := s.snapshot.OverallHealth
	s.statuses[name] = status
	s.snapshot = s.buildSnapshot(providers, s.snapshot.LastCheck)
	snap := copySnapshot(s.snapshot)
	s.healthMu.Unlock()

	s.recorder.RecordProviderStatus(name, status)
	s.recorder.RecordHealth(snap)
	if previous != snap.OverallHealth {
		s.logger.Info("Overall health changed",
			zap.String("from", string(previous)),
			zap.String("to", string(snap.OverallHealth)),
			zap.String("provider", name),
			zap.String("provider_status", string(status)))
	}
}

func (s *Service) refreshSnapshot() {
	providers := s.providerList()

	s.healthMu.Lock()
	s.snapshot = s.buildSnapshot(providers, s.snapshot.LastCheck)
	snap := copySnapshot(s.snapshot)
	s.healthMu.Unlock()

	s.recorder.RecordHealth(snap)
}

// pruneLocked drops statuses of providers removed while a sweep was running.
func (s *Service) pruneLocked(current []Provider) {
	live := make(map[string]bool, len(current))
	for _, p := range current {
		live[p.Name()] = true
	}
	for name := range s.statuses {
		if !live[name] {
			delete(s.statuses, name)
		}
	}
}

// buildSnapshot derives a HealthStatus. Caller holds healthMu.
func (s *Service) buildSnapshot(providers []Provider, lastCheck time.Time) core.HealthStatus {
	statuses := make(map[string]core.ProviderStatus, len(providers))
	list := make([]core.ProviderStatus, len(providers))
	for i, p := range providers {
		st := s.statusLocked(p.Name())
		statuses[p.Name()] = st
		list[i] = st
	}

	return core.HealthStatus{
		OverallHealth:  Aggregate(list),
		ProviderStatus: statuses,
		FallbackActive: len(providers) == 0 || statuses[providers[0].Name()] != core.ProviderOnline,
		LastCheck:      lastCheck,
	}
}

// statusLocked treats providers never checked as offline.
func (s *Service) statusLocked(name string) core.ProviderStatus {
	if st, ok := s.statuses[name]; ok {
		return st
	}
	return core.ProviderOffline
}

func copySnapshot(h core.HealthStatus) core.HealthStatus {
	statuses := make(map[string]core.ProviderStatus, len(h.ProviderStatus))
	for k, v := range h.ProviderStatus {
		statuses[k] = v
	}
	h.ProviderStatus = statuses
	return h
}
