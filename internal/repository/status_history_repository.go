package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/database"
)

// StatusHistoryRepository appends and reads the enrollment audit trail. Rows
// are never updated or deleted.
type StatusHistoryRepository struct {
	db *sqlx.DB
}

// NewStatusHistoryRepository constructs the repository.
func NewStatusHistoryRepository(db *sqlx.DB) *StatusHistoryRepository {
	return &StatusHistoryRepository{db: db}
}

// Append writes one history entry.
func (r *StatusHistoryRepository) Append(ctx context.Context, q database.Queryer, entry *models.StatusHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now().UTC()

	const query = `INSERT INTO enrollment_status_history (id, enrollment_id, previous_status, new_status, reason, performed_by, created_at)
VALUES (:id, :enrollment_id, :previous_status, :new_status, :reason, :performed_by, :created_at)`
	if _, err := q.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append status history: %w", err)
	}
	return nil
}

// ListByEnrollment returns the trail oldest first.
func (r *StatusHistoryRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.StatusHistoryEntry, error) {
	const query = `SELECT id, enrollment_id, previous_status, new_status, reason, performed_by, created_at
FROM enrollment_status_history WHERE enrollment_id = $1 ORDER BY created_at, id`
	var entries []models.StatusHistoryEntry
	if err := r.db.SelectContext(ctx, &entries, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	return entries, nil
}
