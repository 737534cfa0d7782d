package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"bridge-backend/internal/config"
)

// AdminClaims is the operator JWT's payload. There is exactly one
// operator role, so it carries no subject beyond the registered claims.
type AdminClaims struct {
	jwt.RegisteredClaims
}

// AdminLoginRequest is the static-password login body; there is no
// wallet signature in this flow since the admin endpoints are operator
// tooling, not a user-facing wallet surface.
type AdminLoginRequest struct {
	Password string `json:"password" binding:"required"`
}

type AdminLoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
}

// AdminLoginHandler issues a short-lived JWT to an operator who supplies
// the configured admin password.
func AdminLoginHandler(c *gin.Context) {
	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, AdminLoginResponse{Success: false, Message: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	if config.AppConfig == nil || config.AppConfig.Admin.Password == "" {
		c.JSON(http.StatusServiceUnavailable, AdminLoginResponse{Success: false, Message: "admin auth not configured"})
		return
	}
	if req.Password != config.AppConfig.Admin.Password {
		c.JSON(http.StatusUnauthorized, AdminLoginResponse{Success: false, Message: "invalid credentials"})
		return
	}

	token, err := generateAdminJWTToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, AdminLoginResponse{Success: false, Message: "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, AdminLoginResponse{Success: true, Token: token, Message: "login successful"})
}

func generateAdminJWTToken() (string, error) {
	now := time.Now()
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "bridge-backend-admin",
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(4 * time.Hour)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(config.AppConfig.Admin.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateAdminJWTToken parses and validates an operator JWT.
func ValidateAdminJWTToken(tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(config.AppConfig.Admin.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
