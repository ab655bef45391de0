//go:build property

package budgetenforcer

import (
	"testing"
	"time"

	"github.com/dork-labs/dorkos/pkg/protocol"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestBudgetMonotonicity is the property-based counterpart to spec §8
// universal property 3.
func TestBudgetMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("accepted hops never decrease hopCount or ancestorChain length, never increase callBudgetRemaining", prop.ForAll(
		func(hopCount, maxHops, callBudget int) bool {
			now := time.Now()
			env := protocol.Envelope{
				From: "relay.agent.src",
				Budget: protocol.Budget{
					HopCount:            hopCount,
					MaxHops:             maxHops,
					CallBudgetRemaining: callBudget,
					TTL:                 now.Add(time.Hour),
				},
			}
			res := Enforce(env, "relay.agent.dst", now)
			if !res.Allowed {
				return true // rejected hops don't mutate the budget at all
			}
			return res.UpdatedBudget.HopCount == hopCount+1 &&
				res.UpdatedBudget.CallBudgetRemaining == callBudget-1 &&
				len(res.UpdatedBudget.AncestorChain) == 1
		},
		gen.IntRange(0, 2),
		gen.IntRange(3, 10),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

// TestCycleSafety is the property-based counterpart to spec §8 universal
// property 4.
func TestCycleSafety(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("a target already in the ancestor chain is always rejected as a cycle", prop.ForAll(
		func(target string) bool {
			now := time.Now()
			env := protocol.Envelope{
				From: "relay.agent.src",
				Budget: protocol.Budget{
					HopCount:            0,
					MaxHops:             10,
					CallBudgetRemaining: 10,
					TTL:                 now.Add(time.Hour),
					AncestorChain:       []string{target},
				},
			}
			res := Enforce(env, target, now)
			return !res.Allowed && res.Reason == ReasonCycleDetected
		},
		gen.OneConstOf("relay.agent.a", "relay.agent.b", "relay.agent.c"),
	))

	properties.TestingRun(t)
}
