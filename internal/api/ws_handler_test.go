package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(server *httptest.Server, path, token string) string {
	return "ws" + server.URL[4:] + path + "?token=" + token
}

func readRender(t *testing.T, conn *websocket.Conn) renderMessage {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg renderMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

func TestWebSocketHandler_Subscribe(t *testing.T) {
	env := newTestEnv(t, nil)
	server := httptest.NewServer(env.mux())
	defer server.Close()

	id := createView(t, env, `{"thread_key": "thread"}`)
	require.Equal(t, http.StatusOK, env.do("POST", "/api/v1/views/"+id+"/messages", `{"id": "m1"}`).Code)

	t.Run("rejects missing token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial("ws"+server.URL[4:]+"/api/v1/views/"+id+"/ws", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "/api/v1/views/"+id+"/ws", "wrong"), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects unknown view", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "/api/v1/views/missing/ws", testToken), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("sends the current view and pushes changes", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "/api/v1/views/"+id+"/ws", testToken), nil)
		require.NoError(t, err)
		defer func() { _ = conn.Close() }()

		initial := readRender(t, conn)
		assert.Equal(t, "view", initial.Type)
		require.Len(t, initial.View.Messages, 1)
		assert.Nil(t, initial.View.Focused)

		require.Equal(t, http.StatusOK, env.do("POST", "/api/v1/views/"+id+"/focus/next", "").Code)

		pushed := readRender(t, conn)
		require.NotNil(t, pushed.View.Focused)
		assert.Equal(t, "m1,m1", pushed.View.Focused.String())
	})
}

func TestWebSocketHandler_Bridge(t *testing.T) {
	env := newTestEnv(t, nil)
	server := httptest.NewServer(env.mux())
	defer server.Close()

	id := createView(t, env, `{"thread_key": "thread"}`)

	bridge, _, err := websocket.DefaultDialer.Dial(wsURL(server, "/api/v1/views/"+id+"/bridge", testToken), nil)
	require.NoError(t, err)
	defer func() { _ = bridge.Close() }()

	send := func(command string) bridgeReply {
		t.Helper()
		require.NoError(t, bridge.WriteMessage(websocket.TextMessage, []byte(command)))

		_ = bridge.SetReadDeadline(time.Now().Add(2 * time.Second))
		var reply bridgeReply
		require.NoError(t, bridge.ReadJSON(&reply))
		return reply
	}

	reply := send(`{"op": "add_message", "message": {"id": "m1", "subject": "Hello", "from": "", "focused": "false"}}`)
	assert.Equal(t, bridgeReply{Op: "add_message"}, reply)

	reply = send(`{"op": "focus_next_element"}`)
	assert.Equal(t, bridgeReply{Op: "focus_next_element", Focused: "m1,m1"}, reply)

	// A malformed command is answered, and the connection stays usable.
	reply = send(`not json`)
	assert.Contains(t, reply.Error, "invalid command")

	reply = send(`{"op": "focus_previous_element"}`)
	assert.Equal(t, bridgeReply{Op: "focus_previous_element", Focused: "m1,m1"}, reply)

	rr := env.do("GET", "/api/v1/views/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"subject":"Hello"`)
}

func TestWebSocketHandler_BridgeClosedWithView(t *testing.T) {
	env := newTestEnv(t, nil)
	server := httptest.NewServer(env.mux())
	defer server.Close()

	id := createView(t, env, `{"thread_key": "thread"}`)

	bridge, _, err := websocket.DefaultDialer.Dial(wsURL(server, "/api/v1/views/"+id+"/bridge", testToken), nil)
	require.NoError(t, err)
	defer func() { _ = bridge.Close() }()

	require.Eventually(t, func() bool {
		return env.hub.ActiveBridges(id) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusNoContent, env.do("DELETE", "/api/v1/views/"+id, "").Code)
	assert.Equal(t, 0, env.hub.ActiveBridges(id))

	// Commands sent after the delete never reach the closed view.
	_ = bridge.WriteMessage(websocket.TextMessage, []byte(`{"op": "add_message", "message": {"id": "m1"}}`))

	_ = bridge.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = bridge.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
