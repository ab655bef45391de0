// Package subscription implements the in-memory subject-pattern to
// handler registry consulted by DeliveryPipeline's dispatch stage. See
// spec §4.4.
package subscription

import (
	"sync"

	"github.com/dork-labs/dorkos/internal/subject"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

// Handler processes a claimed envelope. A non-nil return marks the
// message as failed.
type Handler func(env protocol.Envelope) error

// Token unsubscribes a previously registered handler.
type Token struct {
	pattern string
	seq     uint64
}

type entry struct {
	seq     uint64
	handler Handler
}

// Registry maps subject patterns to ordered sets of handlers.
type Registry struct {
	mu        sync.RWMutex
	byPattern map[string][]entry
	nextSeq   uint64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byPattern: make(map[string][]entry)}
}

// Subscribe registers handler under pattern and returns an unsubscribe
// token. pattern must be a valid subject pattern (spec §4.1).
func (r *Registry) Subscribe(pattern string, handler Handler) (Token, error) {
	if err := subject.ValidatePattern(pattern); err != nil {
		return Token{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	seq := r.nextSeq
	r.byPattern[pattern] = append(r.byPattern[pattern], entry{seq: seq, handler: handler})
	return Token{pattern: pattern, seq: seq}, nil
}

// Unsubscribe removes the handler identified by tok, if still present.
func (r *Registry) Unsubscribe(tok Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.byPattern[tok.pattern]
	for i, e := range entries {
		if e.seq == tok.seq {
			r.byPattern[tok.pattern] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(r.byPattern[tok.pattern]) == 0 {
		delete(r.byPattern, tok.pattern)
	}
}

// GetSubscribers returns every handler whose pattern matches subject, in
// registration order across all matching patterns: handlers are sorted
// by their own subscription sequence, not grouped by pattern.
func (r *Registry) GetSubscribers(subj string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type matched struct {
		seq     uint64
		handler Handler
	}
	var all []matched
	for pattern, entries := range r.byPattern {
		if !subject.Match(pattern, subj) {
			continue
		}
		for _, e := range entries {
			all = append(all, matched{seq: e.seq, handler: e.handler})
		}
	}

	// Stable sort by registration sequence so invocation order matches
	// spec §4.4/§5 regardless of map iteration order.
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j-1].seq > all[j].seq; j-- {
			all[j-1], all[j] = all[j], all[j-1]
		}
	}

	handlers := make([]Handler, len(all))
	for i, m := range all {
		handlers[i] = m.handler
	}
	return handlers
}
