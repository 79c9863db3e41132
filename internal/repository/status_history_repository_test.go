package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
)

func TestStatusHistoryRepositoryAppend(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStatusHistoryRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollment_status_history")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &models.StatusHistoryEntry{EnrollmentID: "enr-1", PreviousStatus: "pending", NewStatus: models.EnrollmentStatusActive, Reason: "Pago aprobado", PerformedBy: "mercadopago-webhook"}
	require.NoError(t, repo.Append(context.Background(), db, entry))
	assert.NotEmpty(t, entry.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusHistoryRepositoryListByEnrollment(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStatusHistoryRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollment_status_history WHERE enrollment_id = $1")).
		WithArgs("enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "enrollment_id", "previous_status", "new_status", "reason", "performed_by", "created_at"}).
			AddRow("h-1", "enr-1", "", "pending", "Inscripción creada", "system", now).
			AddRow("h-2", "enr-1", "pending", "active", "Pago aprobado", "mercadopago-webhook", now))

	entries, err := repo.ListByEnrollment(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.EnrollmentStatusActive, entries[1].NewStatus)
}
