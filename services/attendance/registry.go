package attendance

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Event is one message on a live connection.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Connection is the writable handle of one live client connection.
// *websocket.Conn satisfies it through a small wrapper in the server.
type Connection interface {
	WriteJSON(v any) error
}

// RequestContext tracks one scrape request: its status, accumulated
// log lines and eventual result. Logs are append-only until the
// context expires.
type RequestContext struct {
	Id          string
	Status      Status
	CreatedAt   time.Time
	Logs        []string
	Result      []Record
	ErrorDetail string
}

// connectionQueue decouples event producers from the socket: events
// are buffered here and drained by a single writer goroutine, so
// delivery to one connection is strictly FIFO.
type connectionQueue struct {
	conn   Connection
	events chan Event
	done   chan struct{}
}

// Registry owns the request-context table and the live-connection
// table. It is constructed once at process start and its handle passed
// to every task; there are deliberately no package-level maps here.
type Registry struct {
	expiry time.Duration

	mu          sync.Mutex
	requests    map[string]*RequestContext
	connections map[string]*connectionQueue

	now func() time.Time
}

func NewRegistry(expiry time.Duration) *Registry {
	return &Registry{
		expiry:      expiry,
		requests:    map[string]*RequestContext{},
		connections: map[string]*connectionQueue{},
		now:         time.Now,
	}
}

// CreateRequest registers a new request context and returns its id.
func (r *Registry) CreateRequest() string {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[id] = &RequestContext{
		Id:        id,
		Status:    StatusProcessing,
		CreatedAt: r.now(),
		Logs:      []string{"Request received. Starting process..."},
	}
	return id
}

// Get returns a snapshot of a request context. The logs slice is
// copied so callers can't observe later appends mid-read.
func (r *Registry) Get(id string) (RequestContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return RequestContext{}, false
	}
	snapshot := *req
	snapshot.Logs = append([]string(nil), req.Logs...)
	return snapshot, true
}

func (r *Registry) Complete(id string, result []Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// the sweep may have removed the context while the task was busy
	req, ok := r.requests[id]
	if !ok {
		return
	}
	req.Status = StatusComplete
	req.Result = result
}

func (r *Registry) Fail(id string, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return
	}
	req.Status = StatusError
	req.ErrorDetail = detail
}

// SetConnection registers a live connection for a request and starts
// its writer goroutine. A connection registered earlier under the same
// id is detached first.
func (r *Registry) SetConnection(id string, conn Connection) {
	queue := &connectionQueue{
		conn:   conn,
		events: make(chan Event, 128),
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	previous := r.connections[id]
	r.connections[id] = queue
	r.mu.Unlock()

	if previous != nil {
		close(previous.done)
	}
	go r.drainQueue(id, queue)
}

func (r *Registry) RemoveConnection(id string) {
	r.mu.Lock()
	queue, ok := r.connections[id]
	delete(r.connections, id)
	r.mu.Unlock()

	if ok {
		close(queue.done)
	}
}

func (r *Registry) connection(id string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue, ok := r.connections[id]
	if !ok {
		return nil, false
	}
	return queue.conn, true
}

// AppendLog records a log line against a request. It returns false
// when the context no longer exists (expired mid-task).
func (r *Registry) AppendLog(id string, line string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return false
	}
	req.Logs = append(req.Logs, line)
	return true
}

// Forward enqueues an event for the live connection registered for a
// request, if any. Writes happen on the connection's single writer
// goroutine, so events for one request reach the client in the order
// they were forwarded while callers (log statements included) never
// block on network i/o. A full queue drops the event rather than stall
// the producer.
func (r *Registry) Forward(id string, event Event) {
	r.mu.Lock()
	queue, ok := r.connections[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	select {
	case queue.events <- event:
	case <-queue.done:
	default:
	}
}

// drainQueue is the connection's writer loop. A failed write means the
// client is gone and its registry entry is dropped.
func (r *Registry) drainQueue(id string, queue *connectionQueue) {
	for {
		select {
		case event := <-queue.events:
			err := queue.conn.WriteJSON(event)
			if err != nil {
				r.removeQueue(id, queue)
				return
			}
		case <-queue.done:
			return
		}
	}
}

// removeQueue drops a specific queue from the table. The id may have
// been re-registered with a fresh connection in the meantime; that one
// is left alone.
func (r *Registry) removeQueue(id string, queue *connectionQueue) {
	r.mu.Lock()
	current, ok := r.connections[id]
	if ok && current == queue {
		delete(r.connections, id)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		close(queue.done)
	}
}

// Sweep removes request contexts older than the expiry window,
// regardless of their status, along with any connection entries they
// still hold. Run opportunistically at the end of each task.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.expiry)
	for id, req := range r.requests {
		if req.CreatedAt.After(cutoff) {
			continue
		}
		delete(r.requests, id)
		if queue, ok := r.connections[id]; ok {
			delete(r.connections, id)
			close(queue.done)
		}
		slog.Debug("cleaned up expired request", "request_id", id)
	}
}
