package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdash/internal/domain/project"
	"marketdash/internal/domain/reconcile"
	"marketdash/internal/pkg/jwt"
)

type stubStore struct{}

func (stubStore) GetBooking(_ context.Context, id int64) (*project.Booking, error) {
	if id != 1 {
		return nil, project.ErrNotFound
	}
	return &project.Booking{ID: 1, ClientID: 10, ProviderID: 20, Status: project.BookingInProgress}, nil
}

func (stubStore) ListMilestones(context.Context, int64) ([]project.Milestone, error) {
	return []project.Milestone{{ID: 1, BookingID: 1, OrderIndex: 1, Status: project.MilestoneCompleted}}, nil
}

func (stubStore) ListTasks(context.Context, int64) ([]project.Task, error) { return nil, nil }

func (stubStore) ListTimeEntries(context.Context, int64) ([]project.TimeEntry, error) {
	return nil, nil
}

func (stubStore) ListApprovals(context.Context, int64) ([]project.ApprovalRequest, error) {
	return nil, nil
}

func (stubStore) GetInvoice(context.Context, int64) (*project.Invoice, error) { return nil, nil }

type partiesOnly struct{}

func (partiesOnly) AuthorizeBooking(_ context.Context, bookingID, userID int64, _ project.Role) error {
	if bookingID != 1 {
		return project.ErrNotFound
	}
	if userID != 10 && userID != 20 {
		return errors.New("forbidden")
	}
	return nil
}

type fixture struct {
	server     *httptest.Server
	hub        *Hub
	controller *reconcile.Controller
	jwt        *jwt.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	controller := reconcile.NewController(stubStore{}, nil, reconcile.Options{})
	hub := NewHub(controller, nil)
	controller.OnView(hub.Broadcast)
	jwtService := jwt.New("ws-secret", time.Hour)

	r := gin.New()
	RegisterRoutes(r, NewWSHandler(hub, jwtService, partiesOnly{}, controller, nil))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &fixture{server: srv, hub: hub, controller: controller, jwt: jwtService}
}

func (f *fixture) url(t *testing.T, bookingID string, userID int64, role string) string {
	t.Helper()
	token, err := f.jwt.GenerateToken(userID, role)
	require.NoError(t, err)
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/bookings/" + bookingID + "?token=" + token
}

func readEvent(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestSessionReceivesInitialAndPushedViews(t *testing.T) {
	f := setup(t)

	conn, _, err := websocket.DefaultDialer.Dial(f.url(t, "1", 10, "client"), nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readEvent(t, conn)
	assert.Equal(t, "view", first.Type)
	require.NotNil(t, first.View)
	assert.Equal(t, int64(1), first.BookingID)
	assert.True(t, first.View.Progress.Valid)
	assert.Equal(t, 100.0, first.View.Progress.Value)

	require.Eventually(t, func() bool { return f.hub.Sessions(1) == 1 }, time.Second, 10*time.Millisecond)

	pushed, err := f.controller.Reconcile(context.Background(), 1)
	require.NoError(t, err)
	next := readEvent(t, conn)
	assert.Equal(t, "view", next.Type)
	assert.Equal(t, pushed.PassID, next.View.PassID)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "ping"}))
	assert.Equal(t, "pong", readEvent(t, conn).Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "subscribe"}))
	assert.Equal(t, "UNKNOWN_TYPE", readEvent(t, conn).ErrorCode)

	conn.Close()
	assert.Eventually(t, func() bool { return f.hub.Sessions(1) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandshakeRejections(t *testing.T) {
	f := setup(t)
	httpURL := func(ws string) string { return "http" + strings.TrimPrefix(ws, "ws") }

	resp, err := http.Get(f.server.URL + "/ws/bookings/1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(httpURL(f.url(t, "1", 99, "client")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = http.Get(httpURL(f.url(t, "2", 10, "client")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(httpURL(f.url(t, "abc", 10, "client")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBroadcastSkipsOtherBookings(t *testing.T) {
	hub := NewHub(nil, nil)
	c := &connection{bookingID: 7, send: make(chan []byte, 1)}
	hub.register(c)

	hub.Broadcast(reconcile.View{BookingID: 8})
	assert.Len(t, c.send, 0)

	hub.Broadcast(reconcile.View{BookingID: 7})
	assert.Len(t, c.send, 1)

	// full buffer drops instead of blocking
	hub.Broadcast(reconcile.View{BookingID: 7})
	assert.Len(t, c.send, 1)

	hub.unregister(c)
	assert.Equal(t, 0, hub.Sessions(7))
}
