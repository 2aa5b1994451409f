package api

import (
	"net/http"
	"strings"
	"time"

	"flowspec/internal/event"
	"flowspec/internal/logging"
	"flowspec/internal/store"

	"github.com/gorilla/websocket"
)

// RunsHandler streams the event log of one upload over a websocket. On
// connect the client receives the events recorded so far, then live
// events as activities report progress. The upload is selected with the
// upload_id query parameter.
type RunsHandler struct {
	Store          *store.Store
	Bus            *event.Bus[store.Event]
	AuthToken      string
	AllowedOrigins []string
	Logger         *logging.Logger
}

func (h *RunsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireWSToken(w, r, h.AuthToken, h.Logger) {
		return
	}

	uploadID := strings.TrimSpace(r.URL.Query().Get("upload_id"))
	if uploadID == "" {
		writeWSError(w, r, nil, h.Logger, wsError{
			Status:  http.StatusBadRequest,
			Message: "upload_id is required",
		})
		return
	}
	if h.Store == nil || h.Bus == nil {
		writeWSError(w, r, nil, h.Logger, wsError{
			Status:  http.StatusServiceUnavailable,
			Message: "run stream unavailable",
		})
		return
	}
	if _, err := h.Store.Upload(uploadID); err != nil {
		writeWSError(w, r, nil, h.Logger, wsError{
			Status:  http.StatusNotFound,
			Message: "upload not found",
		})
		return
	}

	// Subscribe before the snapshot so no event published in between is
	// missed. The snapshot plus live stream may repeat an event; clients
	// key on CreatedAt and EventType.
	output, cancel := h.Bus.SubscribeFiltered(func(evt store.Event) bool {
		return evt.UploadID == uploadID
	})
	defer cancel()

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		logWSError(h.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}
	defer conn.Close()

	for _, evt := range h.Store.Events(uploadID) {
		if writeError := writeRunEvent(conn, evt); writeError != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range output {
			if writeError := writeRunEvent(conn, evt); writeError != nil {
				return
			}
		}
	}()

	for {
		if _, _, readError := conn.ReadMessage(); readError != nil {
			return
		}
	}
}

func writeRunEvent(conn *websocket.Conn, evt store.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(evt)
}
