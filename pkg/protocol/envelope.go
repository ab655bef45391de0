// Package protocol defines the wire types shared by Relay and Mesh:
// envelopes, budgets, endpoints, indexed messages, agent manifests,
// access rules, and signals. Nothing in this package inspects a
// payload's contents — payloads are opaque to the bus.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Envelope is an immutable message carrier with an opaque payload and a
// mutable-per-hop budget. See spec §3.1.
type Envelope struct {
	ID        string         `json:"id"`
	Subject   string         `json:"subject"`
	From      string         `json:"from"`
	ReplyTo   string         `json:"reply_to,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   any            `json:"payload"`
	Budget    Budget         `json:"budget"`
	Unknown   map[string]any `json:"-"` // unknown fields preserved across read/write by the maildir codec
}

// envelopeAlias avoids infinite recursion through Envelope's custom
// (Un)MarshalJSON while reusing its field tags.
type envelopeAlias Envelope

// MarshalJSON merges Unknown back into the top-level object so fields
// this build doesn't recognise survive a read-then-write round trip.
func (e Envelope) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(envelopeAlias(e))
	if err != nil {
		return nil, err
	}
	if len(e.Unknown) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.Unknown {
		if _, known := merged[k]; known {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

// UnmarshalJSON captures any field not part of Envelope's known schema
// into Unknown, so it can be written back out later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var alias envelopeAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*e = Envelope(alias)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := map[string]bool{
		"id": true, "subject": true, "from": true, "reply_to": true,
		"created_at": true, "payload": true, "budget": true,
	}
	for k, v := range raw {
		if known[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if e.Unknown == nil {
			e.Unknown = make(map[string]any)
		}
		e.Unknown[k] = val
	}
	return nil
}

// Budget bounds an envelope's fan-out and lifetime. See spec §3.2.
type Budget struct {
	HopCount            int       `json:"hop_count"`
	MaxHops             int       `json:"max_hops"`
	AncestorChain       []string  `json:"ancestor_chain"`
	TTL                 time.Time `json:"ttl"`
	CallBudgetRemaining int       `json:"call_budget_remaining"`
}

// NewID returns a new lexicographically sortable envelope/message/agent ID.
func NewID() string {
	return ulid.Make().String()
}

// EnsureID assigns an ID and CreatedAt if absent, matching
// RelayCore.publish step 1 (spec §4.13).
func (e *Envelope) EnsureID(now time.Time) {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
}

// Clone returns a deep-enough copy of the envelope for safe per-endpoint
// budget mutation during fan-out (DeliveryPipeline operates on a
// per-endpoint copy of the budget, never the publisher's original).
func (e Envelope) Clone() Envelope {
	out := e
	out.Budget.AncestorChain = append([]string(nil), e.Budget.AncestorChain...)
	return out
}
