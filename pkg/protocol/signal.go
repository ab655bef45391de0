package protocol

import "time"

// SignalType enumerates the ephemeral signal kinds. See spec §4.5.
type SignalType string

const (
	SignalTyping          SignalType = "typing"
	SignalPresence        SignalType = "presence"
	SignalReadReceipt     SignalType = "read_receipt"
	SignalDeliveryReceipt SignalType = "delivery_receipt"
	SignalProgress        SignalType = "progress"
	SignalBackpressure    SignalType = "backpressure"

	// SignalMeshHealthChanged fires when MeshCore.updateLastSeen observes
	// a derived HealthStatus transition for an agent. See spec §4.19.
	SignalMeshHealthChanged SignalType = "mesh.agent.lifecycle.health_changed"
)

// Signal is never persisted, never retried, never ordered across subjects.
type Signal struct {
	Type            SignalType `json:"type"`
	State           string     `json:"state,omitempty"`
	EndpointSubject string     `json:"endpoint_subject"`
	Timestamp       time.Time  `json:"timestamp"`
	Data            any        `json:"data,omitempty"`
}
