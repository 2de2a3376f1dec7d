package leads

import (
	"context"
	"time"
)

// Repository defines the interface for lead storage
type Repository interface {
	Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error)
	GetByID(ctx context.Context, agentID, id string) (*Lead, error)
	FindByAgentAndWindow(ctx context.Context, agentID string, from, to time.Time) ([]Lead, error)
}
