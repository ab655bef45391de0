package budgetenforcer

import (
	"testing"
	"time"

	"github.com/dork-labs/dorkos/pkg/protocol"
)

func baseEnvelope(now time.Time) protocol.Envelope {
	return protocol.Envelope{
		From: "relay.agent.foo.X",
		Budget: protocol.Budget{
			HopCount:            0,
			MaxHops:             3,
			CallBudgetRemaining: 5,
			AncestorChain:       nil,
			TTL:                 now.Add(time.Minute),
		},
	}
}

func TestEnforceAllowsAndUpdatesBudget(t *testing.T) {
	now := time.Now()
	env := baseEnvelope(now)

	res := Enforce(env, "relay.agent.bar.Y", now)
	if !res.Allowed {
		t.Fatalf("expected allowed, got reason %q", res.Reason)
	}
	if res.UpdatedBudget.HopCount != 1 {
		t.Fatalf("HopCount = %d, want 1", res.UpdatedBudget.HopCount)
	}
	if res.UpdatedBudget.CallBudgetRemaining != 4 {
		t.Fatalf("CallBudgetRemaining = %d, want 4", res.UpdatedBudget.CallBudgetRemaining)
	}
	if len(res.UpdatedBudget.AncestorChain) != 1 || res.UpdatedBudget.AncestorChain[0] != "relay.agent.foo.X" {
		t.Fatalf("AncestorChain = %v, want [relay.agent.foo.X]", res.UpdatedBudget.AncestorChain)
	}
}

func TestEnforceRejectsTTLExpired(t *testing.T) {
	now := time.Now()
	env := baseEnvelope(now)
	env.Budget.TTL = now.Add(-time.Second)

	res := Enforce(env, "relay.agent.bar.Y", now)
	if res.Allowed || res.Reason != ReasonTTLExpired {
		t.Fatalf("got %+v, want ttl_expired rejection", res)
	}
}

func TestEnforceRejectsHopLimit(t *testing.T) {
	now := time.Now()
	env := baseEnvelope(now)
	env.Budget.HopCount = env.Budget.MaxHops

	res := Enforce(env, "relay.agent.bar.Y", now)
	if res.Allowed || res.Reason != ReasonHopLimit {
		t.Fatalf("got %+v, want hop_limit rejection", res)
	}
}

func TestEnforceRejectsBudgetExhausted(t *testing.T) {
	now := time.Now()
	env := baseEnvelope(now)
	env.Budget.CallBudgetRemaining = 0

	res := Enforce(env, "relay.agent.bar.Y", now)
	if res.Allowed || res.Reason != ReasonBudgetExhausted {
		t.Fatalf("got %+v, want budget_exhausted rejection", res)
	}
}

func TestEnforceRejectsCycle(t *testing.T) {
	now := time.Now()
	env := baseEnvelope(now)
	env.Budget.AncestorChain = []string{"relay.agent.bar.Y"}

	res := Enforce(env, "relay.agent.bar.Y", now)
	if res.Allowed || res.Reason != ReasonCycleDetected {
		t.Fatalf("got %+v, want cycle_detected rejection", res)
	}
}

func TestEnforceCheckOrderPrefersTTLOverOthers(t *testing.T) {
	now := time.Now()
	env := baseEnvelope(now)
	env.Budget.TTL = now.Add(-time.Second)
	env.Budget.HopCount = env.Budget.MaxHops // would also fail hop_limit

	res := Enforce(env, "relay.agent.bar.Y", now)
	if res.Reason != ReasonTTLExpired {
		t.Fatalf("reason = %q, want ttl_expired to take precedence", res.Reason)
	}
}
