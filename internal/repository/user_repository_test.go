package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var userRowColumns = []string{"id", "email", "username", "password_hash", "full_name", "role", "active", "must_change_password", "last_login", "created_at", "updated_at"}

func TestUserRepositoryFindByLoginNormalisesIdentifier(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("user-1", "ana@example.com", "ana", "hash", "Ana", models.RoleGuardian, true, false, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1 OR username = $1 LIMIT 1")).
		WithArgs("ana@example.com").
		WillReturnRows(rows)

	user, err := repo.FindByLogin(context.Background(), "  Ana@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "ana@example.com", user.EmailValue())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryFindByEmailNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1 LIMIT 1")).
		WithArgs("nobody@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByEmail(context.Background(), db, "nobody@example.com")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryCreateInsideTransaction(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	email := "ana@example.com"
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (id, email, username, password_hash, full_name, role, active, must_change_password, created_at, updated_at)")).
		WithArgs(sqlmock.AnyArg(), "ana@example.com", "ana", "hash", "Ana", models.RoleGuardian, true, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)
	user := &models.User{Email: &email, Username: "ana", PasswordHash: "hash", FullName: "Ana", Role: models.RoleGuardian, Active: true, MustChangePassword: true}
	require.NoError(t, repo.Create(context.Background(), tx, user))
	require.NoError(t, tx.Commit())

	assert.NotEmpty(t, user.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryUsernameExists(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)")).
		WithArgs("sofia4821").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.UsernameExists(context.Background(), db, "sofia4821")
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}
