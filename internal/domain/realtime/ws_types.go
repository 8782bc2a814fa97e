package realtime

import "marketdash/internal/domain/reconcile"

type ClientMessage struct {
	Type string `json:"type"`
}

type ServerMessage struct {
	Type         string          `json:"type"`
	BookingID    int64           `json:"booking_id,omitempty"`
	View         *reconcile.View `json:"view,omitempty"`
	ErrorCode    string          `json:"code,omitempty"`
	ErrorMessage string          `json:"message,omitempty"`
}

func NewViewEvent(v reconcile.View) *ServerMessage {
	return &ServerMessage{
		Type:      "view",
		BookingID: v.BookingID,
		View:      &v,
	}
}

func NewPongEvent() *ServerMessage {
	return &ServerMessage{Type: "pong"}
}

func NewErrorEvent(code, message string) *ServerMessage {
	return &ServerMessage{
		Type:         "error",
		ErrorCode:    code,
		ErrorMessage: message,
	}
}
