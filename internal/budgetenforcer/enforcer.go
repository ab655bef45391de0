// Package budgetenforcer implements the pure budget-check function run
// on every hop: TTL, hop limit, remaining call budget, and cycle
// detection. See spec §4.9.
package budgetenforcer

import (
	"slices"
	"time"

	"github.com/dork-labs/dorkos/pkg/protocol"
)

// RejectReason names which of the ordered checks failed.
type RejectReason string

const (
	ReasonTTLExpired      RejectReason = "ttl_expired"
	ReasonHopLimit        RejectReason = "hop_limit"
	ReasonBudgetExhausted RejectReason = "budget_exhausted"
	ReasonCycleDetected   RejectReason = "cycle_detected"
)

// Result is the outcome of Enforce: either an updated budget ready to
// stamp onto the forwarded envelope, or a rejection reason.
type Result struct {
	Allowed       bool
	UpdatedBudget protocol.Budget
	Reason        RejectReason
}

// Enforce runs the ordered checks of spec §4.9 against env's budget for
// a hop toward targetSubject, evaluated at now.
func Enforce(env protocol.Envelope, targetSubject string, now time.Time) Result {
	b := env.Budget

	if now.After(b.TTL) {
		return Result{Allowed: false, Reason: ReasonTTLExpired}
	}
	if b.HopCount >= b.MaxHops {
		return Result{Allowed: false, Reason: ReasonHopLimit}
	}
	if b.CallBudgetRemaining <= 0 {
		return Result{Allowed: false, Reason: ReasonBudgetExhausted}
	}
	if slices.Contains(b.AncestorChain, targetSubject) {
		return Result{Allowed: false, Reason: ReasonCycleDetected}
	}

	updated := protocol.Budget{
		HopCount:            b.HopCount + 1,
		MaxHops:             b.MaxHops,
		CallBudgetRemaining: b.CallBudgetRemaining - 1,
		TTL:                 b.TTL,
		AncestorChain:       append(append([]string(nil), b.AncestorChain...), env.From),
	}
	return Result{Allowed: true, UpdatedBudget: updated}
}
