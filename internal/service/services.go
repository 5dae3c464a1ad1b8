package service

import (
	"github.com/dom/presence-registry/internal/config"
	"github.com/dom/presence-registry/internal/metrics"
	"github.com/dom/presence-registry/internal/repository"
	"github.com/juju/clock"
)

type Services struct {
	Presence *PresenceService
	Token    *TokenService
}

func NewServices(repos *repository.Repositories, cfg *config.Config, clk clock.Clock, m *metrics.Metrics) (*Services, error) {
	policy, err := ParseOnlinePolicy(cfg.OnlinePolicy)
	if err != nil {
		return nil, err
	}

	query := NewPresenceQuery(repos.Connection, policy)
	return &Services{
		Presence: NewPresenceService(repos, query, clk, cfg.BatchSize, m),
		Token:    NewTokenService(cfg.JWTSecret),
	}, nil
}
