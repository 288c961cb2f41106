package repository

import (
	"context"
	"time"

	"github.com/noteduco342/om-realtime-hub/internal/models"
)

// OutboxRepositoryInterface defines the contract for the persistent send outbox
type OutboxRepositoryInterface interface {
	Save(ctx context.Context, entry *models.OutboxEntry) error
	Delete(ctx context.Context, clientID string) error
	Pending(ctx context.Context, userID, tenantID string) ([]models.OutboxEntry, error)
	MarkAttempted(ctx context.Context, clientID string) error
	Count(ctx context.Context, userID, tenantID string) (int64, error)
	CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error)
}
