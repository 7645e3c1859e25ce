package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"attendance-backend/services/attendance"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func setupApi(t *testing.T) *httptest.Server {
	t.Helper()
	service := attendance.NewService(
		attendance.Settings{
			PortalBaseUrl:      "http://127.0.0.1:1", // never reached in these tests
			BunkableThreshold:  75,
			RequestExpiry:      time.Minute,
			ConnectionIdlePing: 100 * time.Millisecond,
			PermissiveBranches: true,
		},
		attendance.Mappings{ControllerMode: 2, ActionType: 8, MenuId: 660},
	)

	mux := http.NewServeMux()
	InitApi(mux, service)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestHealthcheck(t *testing.T) {
	server := setupApi(t)

	res, err := http.Get(server.URL + "/api/healthcheck")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
}

func TestAttendanceRejectsMissingFields(t *testing.T) {
	server := setupApi(t)

	for _, payload := range []string{
		`{}`,
		`{"srn":"PES2UG23CS123"}`,
		`{"password":"hunter2"}`,
		`not json`,
	} {
		res, err := http.Post(
			server.URL+"/api/attendance",
			"application/json",
			strings.NewReader(payload),
		)
		require.NoError(t, err)
		res.Body.Close()
		require.Equal(t, http.StatusBadRequest, res.StatusCode, "payload %q", payload)
	}
}

func dialSocket(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws/attendance"
	socket, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { socket.Close() })
	return socket
}

func TestSocketRejectsNonAuthFirstMessage(t *testing.T) {
	server := setupApi(t)
	socket := dialSocket(t, server)

	require.NoError(t, socket.WriteJSON(map[string]string{"type": "hello"}))

	var event attendance.Event
	require.NoError(t, socket.ReadJSON(&event))
	require.Equal(t, "error", event.Type)
}

func TestSocketAuthHandshake(t *testing.T) {
	server := setupApi(t)
	socket := dialSocket(t, server)

	require.NoError(t, socket.WriteJSON(map[string]any{
		"type": "auth",
		"data": map[string]string{"srn": "PES2UG23CS123", "password": "hunter2"},
	}))

	var event attendance.Event
	require.NoError(t, socket.ReadJSON(&event))
	require.Equal(t, "auth_success", event.Type)

	data, ok := event.Data.(map[string]any)
	require.True(t, ok)
	require.NotEmpty(t, data["request_id"])

	// the scrape against the unreachable portal fails in the
	// background; the error event arrives on this socket
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, socket.SetReadDeadline(deadline))
		require.NoError(t, socket.ReadJSON(&event))
		if event.Type == "error" {
			break
		}
	}
}

func TestSocketKeepsSilentClientConnected(t *testing.T) {
	server := setupApi(t)
	socket := dialSocket(t, server)

	require.NoError(t, socket.WriteJSON(map[string]any{
		"type": "auth",
		"data": map[string]string{"srn": "PES2UG23CS123", "password": "hunter2"},
	}))
	var event attendance.Event
	require.NoError(t, socket.ReadJSON(&event))
	require.Equal(t, "auth_success", event.Type)

	// sit silent through several idle windows; the server must keep
	// probing, not hang up on a client that is still listening
	pings := 0
	deadline := time.Now().Add(5 * time.Second)
	for pings < 3 {
		require.NoError(t, socket.SetReadDeadline(deadline))
		require.NoError(t, socket.ReadJSON(&event))
		if event.Type == "ping" {
			pings++
		}
	}

	// and the socket is still fully functional afterwards
	require.NoError(t, socket.WriteMessage(websocket.TextMessage, []byte("ping")))
	for {
		require.NoError(t, socket.SetReadDeadline(deadline))
		require.NoError(t, socket.ReadJSON(&event))
		if event.Type == "pong" {
			break
		}
	}
}

func TestReadPumpExitsWhenAbandoned(t *testing.T) {
	sockets := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		sockets <- socket
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	socket := <-sockets
	t.Cleanup(func() { socket.Close() })
	done := make(chan struct{})
	messages := readPump(socket, done)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("one")))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("two")))

	payload, ok := <-messages
	require.True(t, ok)
	require.Equal(t, "one", string(payload))
	// give the pump time to read the second frame and block sending it
	time.Sleep(50 * time.Millisecond)

	close(done)
	require.NoError(t, client.Close())

	// the pump must let go of the pending frame and close its channel
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-messages:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("read pump never exited")
		}
	}
}

func TestSocketRespondsToPing(t *testing.T) {
	server := setupApi(t)
	socket := dialSocket(t, server)

	require.NoError(t, socket.WriteJSON(map[string]any{
		"type": "auth",
		"data": map[string]string{"srn": "PES2UG23CS123", "password": "hunter2"},
	}))
	var event attendance.Event
	require.NoError(t, socket.ReadJSON(&event))
	require.Equal(t, "auth_success", event.Type)

	require.NoError(t, socket.WriteMessage(websocket.TextMessage, []byte("ping")))

	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, socket.SetReadDeadline(deadline))
		require.NoError(t, socket.ReadJSON(&event))
		if event.Type == "pong" {
			break
		}
	}
}
