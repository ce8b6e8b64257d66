package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phrazzld/taskforge/internal/api/shared"
	"github.com/phrazzld/taskforge/internal/events"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second

	// pingPeriod is the keepalive interval for idle subscriptions.
	pingPeriod = 30 * time.Second
)

// EventsHandler streams scoped task events over websocket connections.
type EventsHandler struct {
	broadcaster events.Broadcaster
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(broadcaster events.Broadcaster, log *slog.Logger) *EventsHandler {
	if log == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for EventsHandler")
	}

	return &EventsHandler{
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin enforcement is left to the deployment's proxy layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.With(slog.String("component", "events_handler")),
	}
}

// Subscribe handles GET /events/ws?scope=... requests. The scope parameter
// selects one of the four feeds: global, user:<id>, task:<id> or
// module:<name>; events are streamed as JSON frames until the client
// disconnects.
func (h *EventsHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	scopeParam := r.URL.Query().Get("scope")
	if scopeParam == "" {
		scopeParam = "global"
	}

	scope, err := events.ParseScope(scopeParam)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, GetSafeErrorMessage(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	feed, err := h.broadcaster.Subscribe(ctx, scope)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to subscribe", err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Debug("event subscription opened",
		"scope", scope.String(),
		"remote_addr", r.RemoteAddr)

	// Reader goroutine: the client sends no application frames; reading
	// only serves to notice the disconnect.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, open := <-feed:
			if !open {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("event write failed, dropping subscriber",
					"scope", scope.String(),
					"error", err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
