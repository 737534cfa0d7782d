package router

import (
	"github.com/gin-gonic/gin"

	"bridge-backend/internal/handlers"
	"bridge-backend/internal/middleware"
)

// SetupBridgeRoutes registers the facade surface consumed by the UI
// (deposit hash derivation, balances, withdrawal/note submission,
// optional account onboarding) plus the operator-only quarantine
// endpoints behind both an IP allow-list and the admin JWT.
func SetupBridgeRoutes(r *gin.Engine, h *handlers.BridgeHandler, localhostOnly *middleware.LocalhostOnly, adminAuth *middleware.AdminAuthMiddleware) {
	r.GET("/deposit/hash", h.DepositHash)
	r.POST("/account/balance", h.AccountBalance)
	r.POST("/pool/balance", h.PoolBalance)
	r.POST("/withdrawal/create", h.WithdrawalCreate)
	r.POST("/note/consume", h.NoteConsume)
	r.POST("/account/create", h.AccountCreate)

	r.POST("/admin/login", handlers.AdminLoginHandler)

	admin := r.Group("/admin", localhostOnly.Restrict(), adminAuth.RequireAdminAuth())
	admin.GET("/quarantine", h.AdminListQuarantined)
	admin.POST("/quarantine/:id/retry", h.AdminRetryQuarantined)
}
