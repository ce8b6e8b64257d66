package api_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phrazzld/taskforge/internal/api"
	"github.com/phrazzld/taskforge/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEventsServer(t *testing.T) (*httptest.Server, *events.WatermillBroadcaster) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broadcaster := events.NewWatermillBroadcaster(logger)
	t.Cleanup(func() { _ = broadcaster.Close() })

	handler := api.NewEventsHandler(broadcaster, logger)
	server := httptest.NewServer(http.HandlerFunc(handler.Subscribe))
	t.Cleanup(server.Close)

	return server, broadcaster
}

func wsURL(server *httptest.Server, scope string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "?scope=" + scope
}

func TestEventsSubscribe_StreamsScopedEvents(t *testing.T) {
	server, broadcaster := newEventsServer(t)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "task:payroll-1"), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	defer func() { _ = resp.Body.Close() }()

	// Let the subscription attach before publishing.
	time.Sleep(50 * time.Millisecond)

	sent := events.NewTaskEvent(events.EventTaskStarted, "payroll-1",
		map[string]any{"state": "running"})
	broadcaster.Broadcast(context.Background(), sent)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var received events.TaskEvent
	require.NoError(t, conn.ReadJSON(&received))

	assert.Equal(t, events.EventTaskStarted, received.Type)
	assert.Equal(t, "payroll-1", received.TaskID)
	assert.Equal(t, "running", received.Payload["state"])
}

func TestEventsSubscribe_DefaultsToGlobalScope(t *testing.T) {
	server, broadcaster := newEventsServer(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	defer func() { _ = resp.Body.Close() }()

	time.Sleep(50 * time.Millisecond)

	broadcaster.Broadcast(context.Background(),
		events.NewTaskEvent(events.EventTaskCreated, "any-task", nil))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var received events.TaskEvent
	require.NoError(t, conn.ReadJSON(&received))
	assert.Equal(t, events.EventTaskCreated, received.Type)
}

func TestEventsSubscribe_InvalidScope(t *testing.T) {
	server, _ := newEventsServer(t)

	resp, err := http.Get(server.URL + "?scope=bogus:::")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventsSubscribe_OtherScopeNotDelivered(t *testing.T) {
	server, broadcaster := newEventsServer(t)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "module:accounting"), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	defer func() { _ = resp.Body.Close() }()

	time.Sleep(50 * time.Millisecond)

	// An event with no module never reaches the module feed.
	broadcaster.Broadcast(context.Background(),
		events.NewTaskEvent(events.EventTaskCreated, "some-task", nil))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var received events.TaskEvent
	assert.Error(t, conn.ReadJSON(&received))
}
