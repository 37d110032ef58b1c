package service

import (
	"agent-lab/internal/config"
)

type ServiceContext struct {
	Hub            *Hub
	BanditService  *BanditService
	ExplainService *ExplainService
	RunService     *RunService
}

func NewServiceContext(cfg *config.Config) *ServiceContext {
	hub := NewHub()
	cerebras := NewCerebrasClient(cfg.Cerebras)
	bandit := NewBanditService(hub)

	return &ServiceContext{
		Hub:            hub,
		BanditService:  bandit,
		ExplainService: NewExplainService(bandit, cerebras, hub),
		RunService:     NewRunService(cerebras, hub),
	}
}
