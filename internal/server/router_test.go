package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketdash/internal/database"
	"marketdash/internal/domain/dashboard"
	"marketdash/internal/domain/feed"
	"marketdash/internal/domain/notification"
	"marketdash/internal/domain/project"
	"marketdash/internal/domain/realtime"
	"marketdash/internal/domain/reconcile"
	jwtsvc "marketdash/internal/pkg/jwt"
)

const testSecret = "router-test-secret"

type suite struct {
	router *gin.Engine
	jwt    *jwtsvc.Service
	repo   *project.Repository

	booking   project.Booking
	milestone project.Milestone
	open      project.Task
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func setupSuite(t *testing.T) *suite {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Connect(fmt.Sprintf("file:router_test_%s?mode=memory&cache=shared", t.Name()), nil)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	logger := zap.NewNop()
	repo := project.NewRepository(db, logger)
	changes := feed.NewMemoryFeed()
	t.Cleanup(changes.Close)

	controller := reconcile.NewController(repo, changes, reconcile.Options{Logger: logger})
	hub := realtime.NewHub(controller, logger)
	controller.OnView(hub.Broadcast)

	j := jwtsvc.New(testSecret, time.Hour)
	svc := dashboard.NewService(repo, controller, notification.NopDispatcher{Logger: logger}, logger)

	s := &suite{
		jwt:  j,
		repo: repo,
		router: NewRouter(Deps{
			DB:        db,
			JWT:       j,
			Dashboard: dashboard.NewHandler(svc),
			WebSocket: realtime.NewWSHandler(hub, j, svc, controller, logger),
			Logger:    logger,
		}),
	}

	ctx := context.Background()
	s.booking = project.Booking{ClientID: 10, ProviderID: 20, Status: project.BookingInProgress}
	require.NoError(t, repo.CreateBooking(ctx, &s.booking))
	s.milestone = project.Milestone{BookingID: s.booking.ID, Title: "Edit", OrderIndex: 1, Status: project.MilestoneInProgress, EstimatedHours: 4}
	require.NoError(t, repo.CreateMilestone(ctx, &s.milestone))
	done := project.Task{BookingID: s.booking.ID, MilestoneID: s.milestone.ID, Title: "Rough cut", Status: project.TaskCompleted}
	require.NoError(t, repo.CreateTask(ctx, &done))
	s.open = project.Task{BookingID: s.booking.ID, MilestoneID: s.milestone.ID, Title: "Color grade", Status: project.TaskInProgress}
	require.NoError(t, repo.CreateTask(ctx, &s.open))
	return s
}

func (s *suite) token(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok, err := s.jwt.GenerateToken(userID, role)
	require.NoError(t, err)
	return tok
}

func (s *suite) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)

	var env envelope
	if rr.Header().Get("Content-Type") != "" && bytes.HasPrefix(rr.Body.Bytes(), []byte("{")) {
		_ = json.Unmarshal(rr.Body.Bytes(), &env)
	}
	return rr, env
}

func TestHealthz(t *testing.T) {
	s := setupSuite(t)

	rr, _ := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"ok"`)
}

func TestProgressRequiresToken(t *testing.T) {
	s := setupSuite(t)

	rr, env := s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d/progress", s.booking.ID), "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "AUTH_HEADER_MISSING", env.Error.Code)
}

func TestProgressForStrangerIsForbidden(t *testing.T) {
	s := setupSuite(t)

	rr, env := s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d/progress", s.booking.ID), s.token(t, 99, "client"), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)
}

func TestProviderCompletesProjectEndToEnd(t *testing.T) {
	s := setupSuite(t)
	provider := s.token(t, 20, "provider")
	client := s.token(t, 10, "client")

	rr, env := s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d/progress", s.booking.ID), client, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var view reconcile.View
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, s.booking.ID, view.BookingID)
	require.Len(t, view.Milestones, 1)

	// clients cannot move work forward
	rr, _ = s.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/milestones/%d/status", s.milestone.ID), client, map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// an open task blocks completion
	rr, env = s.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/milestones/%d/status", s.milestone.ID), provider, map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusConflict, rr.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "DEPENDENCY_LOCKED", env.Error.Code)

	rr, _ = s.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/tasks/%d/status", s.open.ID), provider, map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr, env = s.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/milestones/%d/status", s.milestone.ID), provider, map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.True(t, view.Progress.Valid)
	assert.Equal(t, 100.0, view.Progress.Value)

	stored, err := s.repo.GetBooking(context.Background(), s.booking.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ProgressPercentage)
	assert.Equal(t, 100.0, *stored.ProgressPercentage)
}

func TestMetricsExposeRouteTemplates(t *testing.T) {
	s := setupSuite(t)

	s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d/progress", s.booking.ID), s.token(t, 10, "client"), nil)

	rr, _ := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/api/v1/bookings/:id/progress")
}

func TestWebSocketHandshakeWithoutToken(t *testing.T) {
	s := setupSuite(t)

	rr, _ := s.do(t, http.MethodGet, fmt.Sprintf("/ws/bookings/%d", s.booking.ID), "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
