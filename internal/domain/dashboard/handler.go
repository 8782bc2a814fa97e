package dashboard

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"marketdash/internal/domain/progress"
	"marketdash/internal/domain/project"
	"marketdash/internal/domain/reconcile"
	"marketdash/internal/pkg/response"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func actorFrom(c *gin.Context) Actor {
	return Actor{
		UserID: c.GetInt64("user_id"),
		Role:   project.Role(c.GetString("role")),
	}
}

func idParam(c *gin.Context, what string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid "+what+" ID")
		return 0, false
	}
	return id, true
}

// writeError maps service errors onto the response envelope.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, project.ErrValidation), errors.Is(err, ErrInvalidStatus):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, ErrForbidden):
		response.Error(c, http.StatusForbidden, "FORBIDDEN", "Access denied")
	case errors.Is(err, project.ErrNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "Not found")
	case errors.Is(err, ErrDependencyLocked):
		response.Error(c, http.StatusConflict, "DEPENDENCY_LOCKED", err.Error())
	case errors.Is(err, reconcile.ErrStoreUnavailable), errors.Is(err, project.ErrUnavailable),
		errors.Is(err, reconcile.ErrNoData), errors.Is(err, reconcile.ErrStaleReconciliation):
		c.Header("Retry-After", "1")
		response.Error(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Data temporarily unavailable, retry")
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

// writePending answers a write that landed before any view of its booking
// could be built. The client should read progress again later.
func writePending(c *gin.Context, data gin.H, warnings []progress.DependencyWarning) {
	data["view_pending"] = true
	if len(warnings) > 0 {
		response.SuccessWithWarnings(c, http.StatusAccepted, data, warnings)
		return
	}
	response.Success(c, http.StatusAccepted, data)
}

func (h *Handler) GetProgress(c *gin.Context) {
	bookingID, ok := idParam(c, "booking")
	if !ok {
		return
	}
	view, err := h.service.GetProgress(c.Request.Context(), actorFrom(c), bookingID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

func (h *Handler) Reconcile(c *gin.Context) {
	bookingID, ok := idParam(c, "booking")
	if !ok {
		return
	}
	view, err := h.service.ForceReconcile(c.Request.Context(), actorFrom(c), bookingID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

func (h *Handler) UpdateMilestoneStatus(c *gin.Context) {
	milestoneID, ok := idParam(c, "milestone")
	if !ok {
		return
	}
	var req UpdateMilestoneStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	view, err := h.service.UpdateMilestoneStatus(c.Request.Context(), actorFrom(c), milestoneID, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	if view == nil {
		writePending(c, gin.H{"milestone_id": milestoneID, "status": req.Status}, nil)
		return
	}
	response.Success(c, http.StatusOK, view)
}

func (h *Handler) UpdateTaskStatus(c *gin.Context) {
	taskID, ok := idParam(c, "task")
	if !ok {
		return
	}
	var req UpdateTaskStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	res, err := h.service.UpdateTaskStatus(c.Request.Context(), actorFrom(c), taskID, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	if res.View == nil {
		writePending(c, gin.H{"task_id": taskID, "status": req.Status}, res.Warnings)
		return
	}
	if len(res.Warnings) > 0 {
		response.SuccessWithWarnings(c, http.StatusOK, res.View, res.Warnings)
		return
	}
	response.Success(c, http.StatusOK, res.View)
}

func (h *Handler) LogTime(c *gin.Context) {
	taskID, ok := idParam(c, "task")
	if !ok {
		return
	}
	var req LogTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	entry, view, err := h.service.LogTime(c.Request.Context(), actorFrom(c), taskID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	if view == nil {
		writePending(c, gin.H{"time_entry": entry}, nil)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"time_entry": entry, "view": view})
}

func (h *Handler) AddComment(c *gin.Context) {
	taskID, ok := idParam(c, "task")
	if !ok {
		return
	}
	var req AddCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	comment, view, err := h.service.AddComment(c.Request.Context(), actorFrom(c), taskID, req.Body)
	if err != nil {
		writeError(c, err)
		return
	}
	if view == nil {
		writePending(c, gin.H{"comment": comment}, nil)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"comment": comment, "view": view})
}

func (h *Handler) AddAttachment(c *gin.Context) {
	taskID, ok := idParam(c, "task")
	if !ok {
		return
	}
	var req AddAttachmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	attachment, view, err := h.service.AddAttachment(c.Request.Context(), actorFrom(c), taskID, req.Reference)
	if err != nil {
		writeError(c, err)
		return
	}
	if view == nil {
		writePending(c, gin.H{"attachment": attachment}, nil)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"attachment": attachment, "view": view})
}

func (h *Handler) RequestApproval(c *gin.Context) {
	taskID, ok := idParam(c, "task")
	if !ok {
		return
	}
	var req RequestApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	approval, view, err := h.service.RequestApproval(c.Request.Context(), actorFrom(c), taskID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	if view == nil {
		writePending(c, gin.H{"approval": approval}, nil)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"approval": approval, "view": view})
}

func (h *Handler) RespondApproval(c *gin.Context) {
	approvalID, ok := idParam(c, "approval")
	if !ok {
		return
	}
	var req RespondApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	approval, view, err := h.service.RespondApproval(c.Request.Context(), actorFrom(c), approvalID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	if view == nil {
		writePending(c, gin.H{"approval": approval}, nil)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"approval": approval, "view": view})
}
