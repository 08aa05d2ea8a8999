package ws

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterDropsUnmatchedUpgrade(t *testing.T) {
	srv := newTestServer(t, NewMessageServer(nil, nil))

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/nope"), nil)
	require.Error(t, err)
	assert.Nil(t, resp, "connection is closed without a response")
}

func TestRouterFirstMatchWins(t *testing.T) {
	messages := NewMessageServer(nil, nil)
	srv := newTestServer(t, messages, NewDashboardServer(nil, nil))

	dial(t, srv, "/message?name=app")
	waitClients(t, messages, 1)
}

func TestRouterRejectsDuplicatePaths(t *testing.T) {
	rt := NewRouter(nil)
	rt.Register(NewMessageServer(nil, nil))
	assert.Panics(t, func() { rt.Register(NewMessageServer(nil, nil)) })
}

func TestRouterPassesPlainRequests(t *testing.T) {
	srv := newTestServer(t, NewMessageServer(nil, nil))
	resp, err := srv.Client().Get(srv.URL + "/message")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)
}
