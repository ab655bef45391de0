package maildirstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dork-labs/dorkos/pkg/protocol"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func testEnvelope() protocol.Envelope {
	return protocol.Envelope{
		Subject: "relay.agent.alpha",
		From:    "x",
		Budget: protocol.Budget{
			MaxHops:             3,
			CallBudgetRemaining: 5,
			TTL:                 time.Now().Add(time.Minute),
		},
	}
}

func TestDeliverClaimComplete(t *testing.T) {
	s := newTestStore(t)
	hash := "h1"

	id, err := s.Deliver(hash, testEnvelope())
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	newPath := filepath.Join(s.mailboxDir(hash), "new", id+".json")
	if _, err := os.Stat(newPath); err != nil {
		t.Fatalf("expected file at %s: %v", newPath, err)
	}

	env, err := s.Claim(hash, id)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if env.Subject != "relay.agent.alpha" {
		t.Fatalf("claimed envelope subject = %q", env.Subject)
	}
	if _, err := os.Stat(newPath); !os.IsNotExist(err) {
		t.Fatalf("expected new/ file to be gone after claim")
	}

	if err := s.Complete(hash, id); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	curPath := filepath.Join(s.mailboxDir(hash), "cur", id+".json")
	if _, err := os.Stat(curPath); !os.IsNotExist(err) {
		t.Fatalf("expected cur/ file to be gone after complete")
	}

	// Complete is idempotent against an already-moved file.
	if err := s.Complete(hash, id); err != nil {
		t.Fatalf("second Complete: %v", err)
	}
}

func TestClaimMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Claim("h1", "missing"); err == nil {
		t.Fatal("expected error for missing message")
	}
}

func TestFailWritesSidecar(t *testing.T) {
	s := newTestStore(t)
	hash := "h1"

	id, err := s.Deliver(hash, testEnvelope())
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if _, err := s.Claim(hash, id); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := s.Fail(hash, id, "handler panicked: boom"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	failedPath := filepath.Join(s.mailboxDir(hash), "failed", id+".json")
	if _, err := os.Stat(failedPath); err != nil {
		t.Fatalf("expected failed/ envelope: %v", err)
	}

	dl, err := s.ReadDeadLetter(hash, id)
	if err != nil {
		t.Fatalf("ReadDeadLetter: %v", err)
	}
	if dl.Reason != "handler panicked: boom" {
		t.Fatalf("dl.Reason = %q", dl.Reason)
	}
	if dl.EndpointHash != hash {
		t.Fatalf("dl.EndpointHash = %q", dl.EndpointHash)
	}

	ids, err := s.ListFailed(hash)
	if err != nil {
		t.Fatalf("ListFailed: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("ListFailed = %v, want [%s]", ids, id)
	}
}

func TestRejectToFailedDirect(t *testing.T) {
	s := newTestStore(t)
	hash := "h1"
	env := testEnvelope()
	env.ID = protocol.NewID()

	if err := s.RejectToFailed(hash, env, "ttl_expired"); err != nil {
		t.Fatalf("RejectToFailed: %v", err)
	}

	dl, err := s.ReadDeadLetter(hash, env.ID)
	if err != nil {
		t.Fatalf("ReadDeadLetter: %v", err)
	}
	if dl.Reason != "ttl_expired" {
		t.Fatalf("dl.Reason = %q", dl.Reason)
	}
}

func TestPurgeFailedRemovesBothFiles(t *testing.T) {
	s := newTestStore(t)
	hash := "h1"
	env := testEnvelope()
	env.ID = protocol.NewID()

	if err := s.RejectToFailed(hash, env, "boom"); err != nil {
		t.Fatalf("RejectToFailed: %v", err)
	}
	if err := s.PurgeFailed(hash, env.ID); err != nil {
		t.Fatalf("PurgeFailed: %v", err)
	}
	if _, err := s.ReadDeadLetter(hash, env.ID); err == nil {
		t.Fatal("expected dead letter to be gone after purge")
	}
}

func TestReclaimStaleMovesCurBackToNew(t *testing.T) {
	s := newTestStore(t)
	hash := "h1"

	id, err := s.Deliver(hash, testEnvelope())
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if _, err := s.Claim(hash, id); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	n, err := s.ReclaimStale(hash)
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed = %d, want 1", n)
	}

	newPath := filepath.Join(s.mailboxDir(hash), "new", id+".json")
	if _, err := os.Stat(newPath); err != nil {
		t.Fatalf("expected reclaimed file at %s: %v", newPath, err)
	}
}

func TestAtMostOneTerminalAtAnyTime(t *testing.T) {
	s := newTestStore(t)
	hash := "h1"

	id, err := s.Deliver(hash, testEnvelope())
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	locations := func() []string {
		var found []string
		dir := s.mailboxDir(hash)
		for _, sub := range []string{"new", "cur", "failed"} {
			if _, err := os.Stat(filepath.Join(dir, sub, id+".json")); err == nil {
				found = append(found, sub)
			}
		}
		return found
	}

	if got := locations(); len(got) != 1 || got[0] != "new" {
		t.Fatalf("after deliver, locations = %v, want [new]", got)
	}

	if _, err := s.Claim(hash, id); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if got := locations(); len(got) != 1 || got[0] != "cur" {
		t.Fatalf("after claim, locations = %v, want [cur]", got)
	}

	if err := s.Fail(hash, id, "boom"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if got := locations(); len(got) != 1 || got[0] != "failed" {
		t.Fatalf("after fail, locations = %v, want [failed]", got)
	}
}
