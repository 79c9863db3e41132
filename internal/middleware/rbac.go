package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-enrollment-api/pkg/errors"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/response"
)

// RequireRoles lets the request through only when the authenticated role is
// one of roles. It must run after JWT.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims := CurrentClaims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			return
		}
		c.Next()
	}
}
