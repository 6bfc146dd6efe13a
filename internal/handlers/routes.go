package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"harmonyshield/internal/admin"
	"harmonyshield/internal/audit"
	"harmonyshield/internal/auth"
)

// Routes is everything the HTTP API mounts
type Routes struct {
	Auth      *auth.Service
	AuthH     *AuthHandler
	Recovery  *RecoveryHandler
	User      *UserHandler
	Dashboard *DashboardHandler
	Admin     *admin.Resources
	Jobs      JobStatuser
	// Realtime upgrades /api/v1/realtime/ws. Optional.
	Realtime gin.HandlerFunc
	Logger   *zap.Logger
}

// ClientIP stores the caller address for audit entries
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// Register mounts the API under /api/v1 and the unauthenticated /health probe
func (r *Routes) Register(router *gin.Engine) {
	if r.Dashboard != nil {
		router.GET("/health", r.Dashboard.Health)
	}

	v1 := router.Group("/api/v1")
	v1.Use(ClientIP())

	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/register", r.AuthH.Register)
		authGroup.POST("/login", r.AuthH.Login)
		authGroup.GET("/me", auth.RequireSession(r.Auth), r.AuthH.Me)
	}

	v1.GET("/news", r.User.News)

	user := v1.Group("")
	user.Use(auth.RequireSession(r.Auth))
	{
		user.POST("/recovery/requests/:type", r.Recovery.Submit)
		user.GET("/recovery/requests", r.Recovery.ListMine)
		user.GET("/recovery/requests/:id", r.Recovery.Get)
		user.GET("/recovery/requests/:id/timeline", r.Recovery.Timeline)
		user.POST("/recovery/evidence", r.Recovery.UploadEvidence)
		user.GET("/recovery/evidence/*key", r.Recovery.GetEvidence)
		user.DELETE("/recovery/evidence/*key", r.Recovery.DeleteEvidence)

		user.GET("/notifications", r.User.ListNotifications)
		user.POST("/notifications/:id/read", r.User.MarkNotificationRead)

		user.POST("/scam-reports", r.User.SubmitScamReport)
		user.GET("/scam-reports", r.User.ListScamReports)
		user.POST("/scanner/scan", r.User.Scan)

		if r.Realtime != nil {
			user.GET("/realtime/ws", r.Realtime)
		}
	}

	adminGroup := v1.Group("/admin")
	adminGroup.Use(auth.RequireSession(r.Auth), auth.RequireAdmin(r.Auth))
	{
		adminGroup.GET("/recovery-requests", r.Recovery.List)
		adminGroup.POST("/recovery-requests/:id/status", r.Recovery.UpdateStatus)
		adminGroup.POST("/recovery-requests/:id/progress", r.Recovery.AppendProgress)
		adminGroup.PUT("/recovery-requests/:id/assign", r.Recovery.Assign)
		adminGroup.PUT("/recovery-requests/:id/notes", r.Recovery.UpdateNotes)

		if r.Dashboard != nil {
			adminGroup.GET("/dashboard/stats", r.Dashboard.Stats)
			adminGroup.GET("/dashboard/health", r.Dashboard.SystemHealth)
		}
		adminGroup.GET("/jobs", JobsStatus(r.Jobs))
		adminGroup.POST("/jobs/:name/run", RunJob(r.Jobs, r.Logger))

		if r.Admin != nil {
			RegisterAdminResources(adminGroup, r.Admin, r.Logger)
		}
	}
}
