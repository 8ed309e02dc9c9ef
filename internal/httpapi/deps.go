package httpapi

import (
	"context"

	"github.com/google/uuid"

	"github.com/nimbusworks/aviary/internal/lifecycle"
	"github.com/nimbusworks/aviary/internal/store"
)

// AgentManager materialises agents on demand and owns their lifecycle.
// *lifecycle.Manager is the production implementation.
type AgentManager interface {
	Get(ctx context.Context, id uuid.UUID) (*lifecycle.Instance, error)
	Create(ctx context.Context, cfg *store.AgentConfig) (*lifecycle.Instance, error)
	Update(ctx context.Context, userID string, cfg *store.AgentConfig) (*lifecycle.Instance, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) error
}

// PlatformRouter resolves inbound platform messages to the owning agent.
type PlatformRouter interface {
	RoutePlatform(platform, botID string) (*lifecycle.Instance, error)
}
