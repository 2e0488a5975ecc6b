package application

import (
	"context"

	"github.com/ericfisherdev/claude-accounts/internal/domain/port/driven"
)

// Pinger is satisfied by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthReport is the health view returned by the HTTP API.
type HealthReport struct {
	Store string `json:"store"`
	Key   string `json:"key"`
}

// Healthy reports whether every component is ok.
func (r HealthReport) Healthy() bool {
	return r.Store == "ok" && r.Key == "ok"
}

// HealthService checks that the database answers and the encryption key loads.
// It never exposes the key itself.
type HealthService struct {
	store Pinger
	keys  driven.KeyProvider
}

// NewHealthService creates a new HealthService with the required dependencies.
func NewHealthService(store Pinger, keys driven.KeyProvider) *HealthService {
	return &HealthService{
		store: store,
		keys:  keys,
	}
}

// Check probes each component and summarizes the result.
func (s *HealthService) Check(ctx context.Context) HealthReport {
	report := HealthReport{Store: "ok", Key: "ok"}

	if err := s.store.Ping(ctx); err != nil {
		report.Store = "unavailable"
	}
	if _, err := s.keys.Key(); err != nil {
		report.Key = "unavailable"
	}

	return report
}
