package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-enrollment-api/internal/middleware"
	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-enrollment-api/pkg/errors"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/response"
)

// requireClaims returns the authenticated claims or answers 401.
func requireClaims(c *gin.Context) (*models.JWTClaims, bool) {
	claims := middleware.CurrentClaims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}

func invalidPayload(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}
