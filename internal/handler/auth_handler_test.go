package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-enrollment-api/pkg/errors"
)

type authServiceMock struct {
	lastLogin models.LoginRequest
	loginErr  error
}

func (m *authServiceMock) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	m.lastLogin = req
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return &models.LoginResponse{AccessToken: "token", User: models.UserInfo{ID: "u-1"}}, nil
}

func (m *authServiceMock) Me(ctx context.Context, userID string) (*models.UserInfo, error) {
	return &models.UserInfo{ID: userID, Role: models.RoleGuardian}, nil
}

func TestAuthHandlerLogin(t *testing.T) {
	svc := &authServiceMock{}
	handler := NewAuthHandler(svc)

	c, w := newEnrollmentContext(http.MethodPost, "/auth/login", []byte(`{"identifier":"laura@example.com","password":"secret"}`), nil)
	handler.Login(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "laura@example.com", svc.lastLogin.Identifier)
	assert.Contains(t, string(decodeEnvelope(t, w).Data), `"access_token":"token"`)

	svc.loginErr = appErrors.ErrInvalidCredentials
	c, w = newEnrollmentContext(http.MethodPost, "/auth/login", []byte(`{"identifier":"x","password":"y"}`), nil)
	handler.Login(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newEnrollmentContext(http.MethodPost, "/auth/login", []byte(`[`), nil)
	handler.Login(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandlerMe(t *testing.T) {
	handler := NewAuthHandler(&authServiceMock{})

	c, w := newEnrollmentContext(http.MethodGet, "/auth/me", nil, &models.JWTClaims{UserID: "u-9"})
	handler.Me(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(decodeEnvelope(t, w).Data), `"id":"u-9"`)

	c, w = newEnrollmentContext(http.MethodGet, "/auth/me", nil, nil)
	handler.Me(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
