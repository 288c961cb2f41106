package repository

import (
	"context"
	"time"

	"github.com/noteduco342/om-realtime-hub/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ OutboxRepositoryInterface = (*OutboxRepository)(nil)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Save stores an entry. Saving the same client id twice keeps the first.
func (r *OutboxRepository) Save(ctx context.Context, entry *models.OutboxEntry) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "client_id"}}, DoNothing: true}).
		Create(entry).Error
}

// Delete removes an entry once its frame has been written to the socket
func (r *OutboxRepository) Delete(ctx context.Context, clientID string) error {
	return r.db.WithContext(ctx).Where("client_id = ?", clientID).Delete(&models.OutboxEntry{}).Error
}

// Pending returns the session's entries in the order they were saved
func (r *OutboxRepository) Pending(ctx context.Context, userID, tenantID string) ([]models.OutboxEntry, error) {
	var entries []models.OutboxEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND tenant_id = ?", userID, tenantID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// MarkAttempted bumps the attempt counter of an entry
func (r *OutboxRepository) MarkAttempted(ctx context.Context, clientID string) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("client_id = ?", clientID).
		Updates(map[string]interface{}{
			"attempts":     gorm.Expr("attempts + 1"),
			"last_attempt": time.Now(),
		}).Error
}

func (r *OutboxRepository) Count(ctx context.Context, userID, tenantID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("user_id = ? AND tenant_id = ?", userID, tenantID).
		Count(&count).Error
	return count, err
}

// CleanupOld removes entries older than the specified duration
func (r *OutboxRepository) CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.OutboxEntry{})
	return res.RowsAffected, res.Error
}
