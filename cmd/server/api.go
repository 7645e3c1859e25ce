package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"attendance-backend/services/attendance"

	"github.com/gorilla/websocket"
)

type credentials struct {
	Srn      string `json:"srn"`
	Password string `json:"password"`
}

func InitApi(mux *http.ServeMux, service *attendance.Service) {
	mux.HandleFunc("GET /api/healthcheck", handleHealthcheck)
	mux.HandleFunc("POST /api/attendance", handleAttendance(service))
	mux.HandleFunc("GET /api/ws/attendance", handleAttendanceSocket(service))
}

func writeJson(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Warn("failed to write response body", "err", err)
	}
}

func handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	writeJson(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Server is running",
	})
}

func handleAttendance(service *attendance.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var creds credentials
		err := json.NewDecoder(r.Body).Decode(&creds)
		if err != nil || creds.Srn == "" || creds.Password == "" {
			writeJson(w, http.StatusBadRequest, map[string]string{
				"detail": "srn and password are required",
			})
			return
		}

		records, err := service.FetchAttendance(r.Context(), creds.Srn, creds.Password)
		if err != nil {
			writeJson(w, attendance.StatusForError(err), map[string]string{
				"detail": err.Error(),
			})
			return
		}
		writeJson(w, http.StatusOK, map[string]any{"attendance": records})
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the portal credentials in the auth message are the real gate,
	// origin checks would only break non-browser clients
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConnection serializes writes: the keepalive loop and the registry's
// event forwarding both write to the same socket.
type wsConnection struct {
	mu     sync.Mutex
	socket *websocket.Conn
}

func (c *wsConnection) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socket.WriteJSON(v)
}

func handleAttendanceSocket(service *attendance.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.WarnContext(r.Context(), "websocket upgrade failed", "err", err)
			return
		}
		defer socket.Close()

		conn := &wsConnection{socket: socket}

		var msg struct {
			Type string      `json:"type"`
			Data credentials `json:"data"`
		}
		socket.SetReadDeadline(time.Now().Add(service.Settings().ConnectionIdlePing))
		err = socket.ReadJSON(&msg)
		if err != nil || msg.Type != "auth" {
			conn.WriteJSON(attendance.Event{
				Type: "error",
				Data: "Please authenticate first with an auth message",
			})
			return
		}
		socket.SetReadDeadline(time.Time{})
		if msg.Data.Srn == "" || msg.Data.Password == "" {
			conn.WriteJSON(attendance.Event{
				Type: "error",
				Data: "srn and password are required",
			})
			return
		}

		id := service.StartScrape(msg.Data.Srn, msg.Data.Password, conn)
		defer service.Registry().RemoveConnection(id)

		err = conn.WriteJSON(attendance.Event{Type: "auth_success", Data: map[string]string{
			"request_id": id,
			"message":    "Authentication received. Fetching attendance...",
		}})
		if err != nil {
			return
		}

		slog.Info("websocket session established", "request_id", id)
		keepalive(service.Settings().ConnectionIdlePing, socket, conn)
		slog.Info("websocket session closed", "request_id", id)
	}
}

// readPump owns the socket's read side. The returned channel closes
// when the socket errors or done closes, so an abandoned consumer
// never strands the pump mid-send.
func readPump(socket *websocket.Conn, done <-chan struct{}) <-chan []byte {
	messages := make(chan []byte)
	go func() {
		defer close(messages)
		for {
			_, payload, err := socket.ReadMessage()
			if err != nil {
				return
			}
			select {
			case messages <- payload:
			case <-done:
				return
			}
		}
	}()
	return messages
}

// keepalive keeps the socket open while the scrape runs in the
// background. Client messages reset the idle window; every silent
// interval is answered with a ping. Only a failed write means the
// client is gone: a silent but listening client stays connected for as
// long as its request lives.
func keepalive(idle time.Duration, socket *websocket.Conn, conn *wsConnection) {
	done := make(chan struct{})
	defer close(done)
	messages := readPump(socket, done)

	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case payload, ok := <-messages:
			if !ok {
				return
			}
			if isClientPing(payload) {
				err := conn.WriteJSON(attendance.Event{Type: "pong"})
				if err != nil {
					return
				}
			}
		case <-timer.C:
			err := conn.WriteJSON(attendance.Event{Type: "ping"})
			if err != nil {
				return
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(idle)
	}
}

// clients ping either with the bare string or a typed json message
func isClientPing(payload []byte) bool {
	if strings.TrimSpace(string(payload)) == "ping" {
		return true
	}
	var msg struct {
		Type string `json:"type"`
	}
	err := json.Unmarshal(payload, &msg)
	return err == nil && msg.Type == "ping"
}
