package adapter

import (
	"context"
	"testing"

	"github.com/dork-labs/dorkos/pkg/protocol"
)

type fakeAdapter struct {
	id, prefix string
	startErr   error
	stopped    bool
	delivered  []string
}

func (f *fakeAdapter) ID() string            { return f.id }
func (f *fakeAdapter) SubjectPrefix() string { return f.prefix }
func (f *fakeAdapter) DisplayName() string   { return f.id }

func (f *fakeAdapter) Start(context.Context, Publisher) error { return f.startErr }
func (f *fakeAdapter) Stop() error                             { f.stopped = true; return nil }
func (f *fakeAdapter) Deliver(_ context.Context, subject string, _ protocol.Envelope) error {
	f.delivered = append(f.delivered, subject)
	return nil
}
func (f *fakeAdapter) GetStatus() Status { return Status{Running: !f.stopped} }

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, protocol.Envelope) error { return nil }

func TestRegisterSwapsInAfterSuccessfulStart(t *testing.T) {
	r := NewRegistry(noopPublisher{}, nil)
	a1 := &fakeAdapter{id: "tg", prefix: "channel.telegram."}
	if err := r.Register(context.Background(), a1); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, ok := r.Get("tg")
	if !ok || got != a1 {
		t.Fatalf("Get(tg) = %v, %v", got, ok)
	}
}

func TestRegisterKeepsOldInstanceIfStartFails(t *testing.T) {
	r := NewRegistry(noopPublisher{}, nil)
	good := &fakeAdapter{id: "tg", prefix: "channel.telegram."}
	if err := r.Register(context.Background(), good); err != nil {
		t.Fatalf("Register good: %v", err)
	}

	bad := &fakeAdapter{id: "tg", prefix: "channel.telegram.", startErr: errStartFailed}
	if err := r.Register(context.Background(), bad); err == nil {
		t.Fatalf("expected Register to fail")
	}

	got, _ := r.Get("tg")
	if got != good {
		t.Fatalf("expected previous instance to stay live after failed swap")
	}
	if good.stopped {
		t.Fatalf("previous instance should not be stopped when replacement failed to start")
	}
}

func TestRegisterStopsOldInstanceAfterSuccessfulSwap(t *testing.T) {
	r := NewRegistry(noopPublisher{}, nil)
	old := &fakeAdapter{id: "tg", prefix: "channel.telegram."}
	if err := r.Register(context.Background(), old); err != nil {
		t.Fatalf("Register old: %v", err)
	}
	next := &fakeAdapter{id: "tg", prefix: "channel.telegram."}
	if err := r.Register(context.Background(), next); err != nil {
		t.Fatalf("Register next: %v", err)
	}
	if !old.stopped {
		t.Fatalf("expected old instance to be stopped after swap")
	}
}

func TestDeliverRoutesToLongestMatchingPrefix(t *testing.T) {
	r := NewRegistry(noopPublisher{}, nil)
	general := &fakeAdapter{id: "general", prefix: "channel."}
	specific := &fakeAdapter{id: "telegram", prefix: "channel.telegram."}
	if err := r.Register(context.Background(), general); err != nil {
		t.Fatalf("Register general: %v", err)
	}
	if err := r.Register(context.Background(), specific); err != nil {
		t.Fatalf("Register specific: %v", err)
	}

	if !r.Deliver("channel.telegram.123", protocol.Envelope{}) {
		t.Fatalf("expected Deliver to succeed")
	}
	if len(specific.delivered) != 1 || len(general.delivered) != 0 {
		t.Fatalf("expected delivery routed to the more specific adapter")
	}
}

func TestDeliverReturnsFalseWhenNoAdapterMatches(t *testing.T) {
	r := NewRegistry(noopPublisher{}, nil)
	if r.Deliver("channel.unknown.1", protocol.Envelope{}) {
		t.Fatalf("expected Deliver to return false with no adapters registered")
	}
}

var errStartFailed = fakeErr("start failed")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
