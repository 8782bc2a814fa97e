package realtime

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marketdash/internal/domain/project"
	"marketdash/internal/domain/reconcile"
	"marketdash/internal/pkg/jwt"
	"marketdash/internal/pkg/response"
)

// Access decides whether a user may watch a booking.
type Access interface {
	AuthorizeBooking(ctx context.Context, bookingID, userID int64, role project.Role) error
}

type Views interface {
	ViewOrReconcile(ctx context.Context, bookingID int64) (*reconcile.View, error)
}

type WSHandler struct {
	hub    *Hub
	jwt    *jwt.Service
	access Access
	views  Views
	logger *zap.Logger
}

func NewWSHandler(hub *Hub, jwtService *jwt.Service, access Access, views Views, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{hub: hub, jwt: jwtService, access: access, views: views, logger: logger}
}

// HandleWebSocket streams reconciled views of one booking.
//
// Endpoint: GET /ws/bookings/:id?token=JWT_TOKEN
//
// Browsers cannot set headers on the upgrade request, so the token rides in the query.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Token is required. Use ?token=YOUR_JWT_TOKEN")
		return
	}
	claims, err := h.jwt.ValidateToken(token)
	if err != nil {
		response.Error(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
		return
	}

	bookingID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || bookingID <= 0 {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid booking ID")
		return
	}

	ctx := c.Request.Context()
	if err := h.access.AuthorizeBooking(ctx, bookingID, claims.UserID, project.Role(claims.Role)); err != nil {
		switch {
		case errors.Is(err, project.ErrNotFound):
			response.Error(c, http.StatusNotFound, "NOT_FOUND", "Booking not found")
		case errors.Is(err, project.ErrUnavailable):
			response.Error(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Store unavailable, retry")
		default:
			response.Error(c, http.StatusForbidden, "FORBIDDEN", "Not a party to this booking")
		}
		return
	}

	// A failed first pass is not fatal: the session still gets the next view.
	initial, err := h.views.ViewOrReconcile(ctx, bookingID)
	if err != nil {
		h.logger.Warn("initial view unavailable", zap.Int64("booking_id", bookingID), zap.Error(err))
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.logger.Debug("session connected", zap.Int64("user_id", claims.UserID), zap.Int64("booking_id", bookingID))
	h.hub.ServeWS(conn, claims.UserID, bookingID, initial)
	h.logger.Debug("session disconnected", zap.Int64("user_id", claims.UserID), zap.Int64("booking_id", bookingID))
}

func RegisterRoutes(r gin.IRoutes, h *WSHandler) {
	r.GET("/ws/bookings/:id", h.HandleWebSocket)
}
