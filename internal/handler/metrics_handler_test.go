package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestMetricsHandlerReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	healthy := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"database": func(ctx context.Context) error { return nil },
	})
	c, w := newEnrollmentContext(http.MethodGet, "/ready", nil, nil)
	healthy.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)

	failing := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"database": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("dial tcp: refused") },
	})
	c, w = newEnrollmentContext(http.MethodGet, "/ready", nil, nil)
	failing.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "refused")

	c, w = newEnrollmentContext(http.MethodGet, "/health", nil, nil)
	healthy.Health(c)
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = newEnrollmentContext(http.MethodGet, "/metrics", nil, nil)
	healthy.Prometheus(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
