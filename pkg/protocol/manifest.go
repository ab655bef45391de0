package protocol

import "time"

// AgentManifest is authored in <project>/.dork/agent.json. See spec §3.5.
type AgentManifest struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Description  string           `json:"description,omitempty"`
	Runtime      string           `json:"runtime"`
	Capabilities []string         `json:"capabilities,omitempty"`
	Behavior     ManifestBehavior `json:"behavior"`
	Budget       ManifestBudget   `json:"budget"`
	Namespace    string           `json:"namespace,omitempty"`
	RegisteredAt time.Time        `json:"registered_at"`
	RegisteredBy string           `json:"registered_by,omitempty"`
	Extra        map[string]any   `json:"-"` // unknown fields preserved on re-write
}

// ManifestBehavior controls how an agent responds to inbound traffic.
type ManifestBehavior struct {
	ResponseMode string `json:"response_mode"` // "always" or other
}

// ManifestBudget stamps defaults onto outgoing envelopes for this agent.
type ManifestBudget struct {
	MaxHopsPerMessage int `json:"max_hops_per_message"`
	MaxCallsPerHour   int `json:"max_calls_per_hour"`
}

// HealthStatus is derived, never stored. See spec §3.6.
type HealthStatus string

const (
	HealthActive   HealthStatus = "active"
	HealthInactive HealthStatus = "inactive"
	HealthStale    HealthStatus = "stale"
)

// ReachabilityStatus records whether an agent's project directory is
// still present on disk.
type ReachabilityStatus string

const (
	ReachabilityActive      ReachabilityStatus = "active"
	ReachabilityUnreachable ReachabilityStatus = "unreachable"
)

// AgentRegistryEntry is an AgentManifest plus registry-owned bookkeeping.
// See spec §3.6.
type AgentRegistryEntry struct {
	Manifest      AgentManifest      `json:"manifest"`
	ProjectPath   string             `json:"project_path"`
	ScanRoot      string             `json:"scan_root"`
	Namespace     string             `json:"namespace"`
	LastSeenAt    time.Time          `json:"last_seen_at"`
	LastSeenEvent string             `json:"last_seen_event,omitempty"`
	Reachability  ReachabilityStatus `json:"reachability"`
}
