// Package signal implements ephemeral, unordered fan-out of typing,
// presence, receipt, progress, and backpressure notifications. See
// spec §4.5.
package signal

import (
	"sync"

	"github.com/dork-labs/dorkos/pkg/protocol"
)

// Listener receives every signal emitted after it subscribes. Listeners
// must not block; Emit delivers synchronously.
type Listener func(protocol.Signal)

// Emitter fans out signals to every attached listener. Nothing is
// persisted or retried; with no listeners attached, Emit is a no-op.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[uint64]Listener
	nextID    uint64
}

// New returns an empty Emitter.
func New() *Emitter {
	return &Emitter{listeners: make(map[uint64]Listener)}
}

// Attach registers listener and returns a token for Detach.
func (e *Emitter) Attach(l Listener) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.listeners[id] = l
	return id
}

// Detach removes a previously attached listener, if still present.
func (e *Emitter) Detach(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, id)
}

// Emit fans sig out to every attached listener, silently dropping it if
// none are attached.
func (e *Emitter) Emit(sig protocol.Signal) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, l := range e.listeners {
		l(sig)
	}
}
