package ws

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/devpack/internal/reporter"
)

func TestEventsCommandIsBroadcastToApps(t *testing.T) {
	messages := NewMessageServer(nil, nil)
	events := NewEventsServer(messages, nil, nil)
	srv := newTestServer(t, messages, events)

	app := dial(t, srv, "/message")
	tool := dial(t, srv, "/events")
	waitClients(t, messages, 1)
	waitClients(t, events, 1)

	writeJSON(t, tool, map[string]any{"version": 1, "type": "command", "command": "ignored"})
	writeJSON(t, tool, map[string]any{"version": 2, "type": "command", "command": "reload"})
	msg := readJSON(t, app)
	assert.Equal(t, "reload", msg["method"])
}

func TestEventsRelaysConsoleEntries(t *testing.T) {
	events := NewEventsServer(NewMessageServer(nil, nil), nil, nil)
	srv := newTestServer(t, events)
	tool := dial(t, srv, "/events")
	waitClients(t, events, 1)

	events.Process(reporter.Entry{Timestamp: time.Now(), Type: reporter.LevelInfo, Issuer: "Compiler", Message: []any{"skip"}})
	events.Process(reporter.Entry{Timestamp: time.Now(), Type: reporter.LevelWarn, Issuer: ConsoleIssuer, Message: []any{"careful"}})

	msg := readJSON(t, tool)
	assert.Equal(t, "client_log", msg["type"])
	assert.Equal(t, "warn", msg["level"])
	assert.Equal(t, []any{"careful"}, msg["data"])
}

func TestEventsRejectsForeignOrigin(t *testing.T) {
	srv := newTestServer(t, NewEventsServer(NewMessageServer(nil, nil), nil, nil))

	header := http.Header{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/events"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": {"http://localhost:8081"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/events"), header)
	require.NoError(t, err)
	conn.Close()
}
