// Package presence tracks which identities are connected and through
// which live transport connections. The registry is process-wide state:
// empty at startup, never persisted, rebuilt as clients reconnect.
package presence

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gfurtadoalmeida/deskhub/internal/bus"
	"github.com/gfurtadoalmeida/deskhub/internal/wire"
	"go.uber.org/zap"
)

// ErrDuplicateConnection means a transport id is already registered under
// a different identity. That is an upstream bug, never swallowed.
var ErrDuplicateConnection = errors.New("transport id already registered under another identity")

// Conn is the minimal surface the core needs from a live transport
// connection. The transport layer owns the connection; the registry only
// references it.
type Conn interface {
	TransportID() string
	IdentityID() string
	Deliver(frame wire.Frame) error
}

// Viewer is implemented by connections that report which conversation
// the client currently has open. Used to decide whether a relayed
// message needs an unread notification.
type Viewer interface {
	ActiveConversation() string
}

// Registry maps identity ids to their open connections. An identity is
// present iff it has at least one connection.
type Registry struct {
	mu          sync.RWMutex
	byIdentity  map[string]map[string]Conn // identity id → transport id → conn
	byTransport map[string]string          // transport id → identity id
	bus         *bus.Bus
	logger      *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(b *bus.Bus, logger *zap.Logger) *Registry {
	return &Registry{
		byIdentity:  make(map[string]map[string]Conn),
		byTransport: make(map[string]string),
		bus:         b,
		logger:      logger,
	}
}

// Register adds conn to the identity's connection set. Registering the
// same connection twice is a no-op. Registering a transport id that
// already belongs to another identity fails with ErrDuplicateConnection.
// Every effective change publishes a presence.changed event with the new
// snapshot.
func (r *Registry) Register(identity string, conn Conn) error {
	r.mu.Lock()
	tid := conn.TransportID()
	if owner, ok := r.byTransport[tid]; ok {
		r.mu.Unlock()
		if owner != identity {
			return fmt.Errorf("%w: transport %s owned by %s, register attempted for %s",
				ErrDuplicateConnection, tid, owner, identity)
		}
		return nil
	}
	conns := r.byIdentity[identity]
	if conns == nil {
		conns = make(map[string]Conn)
		r.byIdentity[identity] = conns
	}
	conns[tid] = conn
	r.byTransport[tid] = identity
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.logger.Info("connection registered",
		zap.String("identity", identity),
		zap.String("transport", tid),
		zap.Int("online", len(snapshot)))
	r.publishChanged(snapshot)
	return nil
}

// Unregister removes the connection from whatever identity it belongs to.
// When the identity's set becomes empty its entry is deleted. Unknown
// connections are ignored.
func (r *Registry) Unregister(conn Conn) {
	r.mu.Lock()
	tid := conn.TransportID()
	identity, ok := r.byTransport[tid]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byTransport, tid)
	conns := r.byIdentity[identity]
	delete(conns, tid)
	if len(conns) == 0 {
		delete(r.byIdentity, identity)
	}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.logger.Info("connection unregistered",
		zap.String("identity", identity),
		zap.String("transport", tid),
		zap.Int("online", len(snapshot)))
	r.publishChanged(snapshot)
}

// Lookup returns the identity's open connections. Absence is a normal
// state: the result is empty, never an error.
func (r *Registry) Lookup(identity string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]Conn, 0, len(r.byIdentity[identity]))
	for _, c := range r.byIdentity[identity] {
		conns = append(conns, c)
	}
	return conns
}

// Online reports whether the identity has at least one open connection.
func (r *Registry) Online(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity[identity]) > 0
}

// Snapshot returns the sorted list of currently present identities.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []string {
	ids := make([]string, 0, len(r.byIdentity))
	for id := range r.byIdentity {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) publishChanged(snapshot []string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.Event{
		Kind:      "presence.changed",
		Timestamp: time.Now(),
		Payload:   snapshot,
	})
}
