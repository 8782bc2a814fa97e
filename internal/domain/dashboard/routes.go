package dashboard

import (
	"github.com/gin-gonic/gin"

	"marketdash/internal/middleware"
)

// RegisterRoutes mounts the dashboard under an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	bookings := rg.Group("/bookings")
	{
		bookings.GET("/:id/progress", h.GetProgress)
		bookings.POST("/:id/reconcile", h.Reconcile)
	}

	rg.PATCH("/milestones/:id/status", middleware.ProviderOrAdmin(), h.UpdateMilestoneStatus)

	tasks := rg.Group("/tasks")
	{
		tasks.PATCH("/:id/status", middleware.ProviderOrAdmin(), h.UpdateTaskStatus)
		tasks.POST("/:id/time-entries", middleware.ProviderOrAdmin(), h.LogTime)
		tasks.POST("/:id/comments", h.AddComment)
		tasks.POST("/:id/attachments", h.AddAttachment)
		tasks.POST("/:id/approvals", h.RequestApproval)
	}

	rg.POST("/approvals/:id/respond", h.RespondApproval)
}
