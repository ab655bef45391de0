//go:build property

package maildirstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dork-labs/dorkos/pkg/protocol"
)

// TestDeliverSurvivesReopen is the property-based counterpart to spec §8
// universal property 1: a delivered message is never lost across a
// simulated process restart (a fresh Store opened over the same root),
// whether it was ever claimed or not.
func TestDeliverSurvivesReopen(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("a delivered message, claimed or not, reads back identical after reopening the store", prop.ForAll(
		func(payload string, claimed bool) bool {
			root := t.TempDir()
			s, err := New(root)
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			env := protocol.Envelope{Subject: "relay.agent.x", From: "sender", Payload: payload}
			id, err := s.Deliver("h1", env)
			if err != nil {
				t.Fatalf("Deliver: %v", err)
			}

			if claimed {
				if _, err := s.Claim("h1", id); err != nil {
					t.Fatalf("Claim: %v", err)
				}
			}

			// Simulate a restart: a brand new Store over the same root dir.
			reopened, err := New(root)
			if err != nil {
				t.Fatalf("reopen New: %v", err)
			}

			if claimed {
				// A file left in cur/ after restart must be reclaimable back
				// to new/, never silently lost.
				n, err := reopened.ReclaimStale("h1")
				if err != nil {
					t.Fatalf("ReclaimStale: %v", err)
				}
				if n != 1 {
					return false
				}
			}

			got, err := reopened.ReadEnvelope("h1", id)
			if err != nil {
				t.Fatalf("ReadEnvelope: %v", err)
			}
			return got.Payload == payload
		},
		gen.AnyString(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestAtomicWriteNeverLeavesPartialFile exercises writeAtomic's rename-only
// visibility guarantee: the destination file, once readable, always
// contains the full payload, never a partial write.
func TestAtomicWriteNeverLeavesPartialFile(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("writeAtomic's target file is either absent or exactly the written bytes", prop.ForAll(
		func(data string) bool {
			dir := t.TempDir()
			if err := writeAtomic(dir, "msg.json", []byte(data)); err != nil {
				t.Fatalf("writeAtomic: %v", err)
			}
			got, err := os.ReadFile(filepath.Join(dir, "msg.json"))
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			return string(got) == data
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
