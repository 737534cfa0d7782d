package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bridge-backend/internal/handlers"
)

// AdminAuthMiddleware guards the operator-only quarantine endpoints with
// the admin JWT issued by AdminLoginHandler.
type AdminAuthMiddleware struct {
	logger *logrus.Logger
}

func NewAdminAuthMiddleware(logger *logrus.Logger) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{logger: logger}
}

func (a *AdminAuthMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			a.logger.WithFields(logrus.Fields{"path": c.Request.URL.Path, "method": c.Request.Method}).Warn("admin auth failed: missing Authorization header")
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required", "code": "MISSING_AUTH_HEADER"})
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			a.logger.WithFields(logrus.Fields{"path": c.Request.URL.Path, "method": c.Request.Method}).Warn("admin auth failed: invalid Authorization format")
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid authorization format, need Bearer token", "code": "INVALID_AUTH_FORMAT"})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "empty token", "code": "EMPTY_TOKEN"})
			c.Abort()
			return
		}

		if _, err := handlers.ValidateAdminJWTToken(tokenString); err != nil {
			a.logger.WithFields(logrus.Fields{"path": c.Request.URL.Path, "method": c.Request.Method, "error": err.Error()}).Warn("admin auth failed: invalid token")
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid or expired token", "code": "INVALID_TOKEN"})
			c.Abort()
			return
		}

		c.Next()
	}
}
