package transport

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/polymeet/polymeet/internal/domain"
)

// Registry maps opaque connection identifiers to live connections. It is
// the only component that touches sockets directly; everything above it
// addresses connections by id.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	log   *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		conns: make(map[string]*Conn),
		log:   log,
	}
}

// Add registers a freshly upgraded socket under a new connection id.
// Identifiers are never reused.
func (r *Registry) Add(sock *websocket.Conn) *Conn {
	conn := &Conn{
		ID:   uuid.New().String(),
		sock: sock,
		send: make(chan domain.Event, sendBufferSize),
		done: make(chan struct{}),
	}
	conn.log = r.log.With(slog.String("conn_id", conn.ID))

	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()

	return conn
}

// Remove drops the connection from the registry and closes it.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	delete(r.conns, connID)
	r.mu.Unlock()

	if ok {
		conn.close()
	}
}

// Send delivers an event to the named connection, fire and forget. Unknown
// connection ids are ignored.
func (r *Registry) Send(connID string, ev domain.Event) {
	r.mu.RLock()
	conn, ok := r.conns[connID]
	r.mu.RUnlock()

	if !ok {
		return
	}
	conn.Enqueue(ev)
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
