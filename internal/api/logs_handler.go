package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"flowspec/internal/logging"

	"github.com/gorilla/websocket"
)

// LogsHandler streams log entries over a websocket. On connect the client
// receives the retained buffer, then live entries as they happen. The
// client may send {"level": "..."} messages to adjust its filter.
type LogsHandler struct {
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

type logFilterMessage struct {
	Level string `json:"level"`
}

type levelFilter struct {
	mu    sync.RWMutex
	level logging.Level
}

func (f *levelFilter) Get() logging.Level {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.level
}

func (f *levelFilter) Set(level logging.Level) {
	f.mu.Lock()
	f.level = level
	f.mu.Unlock()
}

func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireWSToken(w, r, h.AuthToken, h.Logger) {
		return
	}

	if h.Logger == nil || h.Logger.Buffer() == nil {
		writeWSError(w, r, nil, h.Logger, wsError{
			Status:  http.StatusServiceUnavailable,
			Message: "log stream unavailable",
		})
		return
	}

	filter := &levelFilter{}
	if rawLevel := r.URL.Query().Get("level"); rawLevel != "" {
		if level, ok := logging.ParseLevel(rawLevel); ok {
			filter.Set(level)
		}
	}

	output, cancel := h.Logger.Subscribe()
	if output == nil {
		writeWSError(w, r, nil, h.Logger, wsError{
			Status:  http.StatusServiceUnavailable,
			Message: "log stream unavailable",
		})
		return
	}
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

	if snapshotError := writeLogSnapshot(conn, h.Logger.Buffer().List(), filter.Get()); snapshotError != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range output {
			minLevel := filter.Get()
			if minLevel != "" && !logging.LevelAtLeast(entry.Level, minLevel) {
				continue
			}
			if writeError := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); writeError != nil {
				return
			}
			if writeError := conn.WriteJSON(entry); writeError != nil {
				return
			}
		}
	}()

	for {
		msgType, msg, readError := conn.ReadMessage()
		if readError != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var payload logFilterMessage
		if unmarshalError := json.Unmarshal(msg, &payload); unmarshalError != nil {
			continue
		}
		level, ok := logging.ParseLevel(payload.Level)
		if !ok {
			filter.Set("")
			continue
		}
		filter.Set(level)
	}
}

func writeLogSnapshot(conn *websocket.Conn, entries []logging.LogEntry, minLevel logging.Level) error {
	for _, entry := range entries {
		if minLevel != "" && !logging.LevelAtLeast(entry.Level, minLevel) {
			continue
		}
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		if err := conn.WriteJSON(entry); err != nil {
			return err
		}
	}
	return nil
}
