//go:build property

package topology

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dork-labs/dorkos/internal/access"
	"github.com/dork-labs/dorkos/internal/agentregistry"
	"github.com/dork-labs/dorkos/internal/sqliteindex"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

// TestTopologyContainment is the property-based counterpart to spec §8
// universal property 9: a caller's namespace view always contains every
// agent in its own namespace, and never contains an agent from another
// namespace unless an explicit allow rule grants it.
func TestTopologyContainment(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	nsGen := gen.OneConstOf("red", "blue")

	properties.Property("caller always sees its own namespace and never an unrelated one", prop.ForAll(
		func(callerNS, otherNS string, allowed bool) bool {
			index, err := sqliteindex.Open(filepath.Join(t.TempDir(), "index.db"))
			if err != nil {
				t.Fatalf("sqliteindex.Open: %v", err)
			}
			defer index.Close()

			agents := agentregistry.New(index, agentregistry.DefaultHealthThresholds())
			rules := access.New(index)
			ctx := context.Background()

			mine := protocol.AgentRegistryEntry{
				Manifest:    protocol.AgentManifest{ID: "mine", Name: "mine"},
				ProjectPath: "/p/mine", Namespace: callerNS,
			}
			theirs := protocol.AgentRegistryEntry{
				Manifest:    protocol.AgentManifest{ID: "theirs", Name: "theirs"},
				ProjectPath: "/p/theirs", Namespace: otherNS,
			}
			if err := agents.Upsert(ctx, mine); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			if err := agents.Upsert(ctx, theirs); err != nil {
				t.Fatalf("Upsert: %v", err)
			}

			if callerNS != otherNS && allowed {
				rule := protocol.AccessRule{
					From: fmt.Sprintf("relay.agent.%s.*", callerNS),
					To:   fmt.Sprintf("relay.agent.%s.*", otherNS),
					Action: protocol.ActionAllow, Priority: 1,
				}
				if err := rules.AddRule(ctx, rule); err != nil {
					t.Fatalf("AddRule: %v", err)
				}
			}

			mgr := New(agents, rules)
			views, err := mgr.GetTopology(ctx, callerNS)
			if err != nil {
				t.Fatalf("GetTopology: %v", err)
			}

			sawMine, sawTheirs := false, false
			for _, v := range views {
				for _, a := range v.Agents {
					switch a.Manifest.ID {
					case "mine":
						sawMine = true
					case "theirs":
						sawTheirs = true
					}
				}
			}

			if !sawMine {
				return false
			}
			if callerNS == otherNS {
				return sawTheirs
			}
			return sawTheirs == allowed
		},
		nsGen, nsGen, gen.Bool(),
	))

	properties.TestingRun(t)
}
