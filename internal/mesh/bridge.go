// Package mesh implements MeshCore, the persistent agent registry and
// discovery orchestrator, and RelayBridge, its narrow connection into
// Relay's endpoint surface. See spec §4.19.
package mesh

import (
	"fmt"

	"github.com/dork-labs/dorkos/internal/relay"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

// subjectFor derives an agent's Relay endpoint subject from its
// namespace and ID: relay.agent.<namespace>.<id>.
func subjectFor(namespace, id string) string {
	return fmt.Sprintf("relay.agent.%s.%s", namespace, id)
}

// RelayBridge adapts relay.EndpointRegistrar to MeshCore's
// namespace/id-keyed vocabulary, so MeshCore never has to build subject
// strings itself.
type RelayBridge struct {
	registrar relay.EndpointRegistrar
}

// NewRelayBridge wraps registrar (typically a *relay.Core).
func NewRelayBridge(registrar relay.EndpointRegistrar) *RelayBridge {
	return &RelayBridge{registrar: registrar}
}

// RegisterAgent registers the Relay endpoint for an agent, returning the
// endpoint Relay created.
func (b *RelayBridge) RegisterAgent(namespace, id string) (protocol.Endpoint, error) {
	return b.registrar.RegisterEndpoint(subjectFor(namespace, id))
}

// UnregisterAgent removes the Relay endpoint for an agent.
func (b *RelayBridge) UnregisterAgent(namespace, id string) {
	b.registrar.UnregisterEndpoint(subjectFor(namespace, id))
}
