package core

import "time"

type ProviderStatus string

const (
	ProviderOnline   ProviderStatus = "online"
	ProviderOffline  ProviderStatus = "offline"
	ProviderDegraded ProviderStatus = "degraded"
)

type OverallHealth string

const (
	HealthHealthy  OverallHealth = "healthy"
	HealthDegraded OverallHealth = "degraded"
	HealthCritical OverallHealth = "critical"
)

type HealthStatus struct {
	OverallHealth  OverallHealth             `json:"overall_health"`
	ProviderStatus map[string]ProviderStatus `json:"provider_status"`
	FallbackActive bool                      `json:"fallback_active"`
	LastCheck      time.Time                 `json:"last_check"`
}

// ProviderInfo describes a registered provider for operators. Synthetic
// providers serve generated data and terminate the chain.
type ProviderInfo struct {
	Name      string         `json:"name"`
	Priority  int            `json:"priority"`
	Status    ProviderStatus `json:"status"`
	Primary   bool           `json:"primary"`
	Synthetic bool           `json:"synthetic"`
}
