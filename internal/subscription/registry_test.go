package subscription

import (
	"testing"

	"github.com/dork-labs/dorkos/pkg/protocol"
)

func TestGetSubscribersMatchesWildcards(t *testing.T) {
	r := New()
	var order []string

	if _, err := r.Subscribe("relay.agent.*", func(env protocol.Envelope) error {
		order = append(order, "wildcard")
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := r.Subscribe("relay.agent.alpha", func(env protocol.Envelope) error {
		order = append(order, "exact")
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	handlers := r.GetSubscribers("relay.agent.alpha")
	if len(handlers) != 2 {
		t.Fatalf("len(handlers) = %d, want 2", len(handlers))
	}
	for _, h := range handlers {
		h(protocol.Envelope{})
	}
	if order[0] != "wildcard" || order[1] != "exact" {
		t.Fatalf("invocation order = %v, want [wildcard exact]", order)
	}

	if handlers := r.GetSubscribers("relay.agent.beta"); len(handlers) != 1 {
		t.Fatalf("len(handlers) for beta = %d, want 1", len(handlers))
	}
}

func TestUnsubscribeRemovesHandler(t *testing.T) {
	r := New()
	tok, err := r.Subscribe("relay.agent.alpha", func(env protocol.Envelope) error { return nil })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	r.Unsubscribe(tok)
	if handlers := r.GetSubscribers("relay.agent.alpha"); len(handlers) != 0 {
		t.Fatalf("len(handlers) after unsubscribe = %d, want 0", len(handlers))
	}
}

func TestSubscribeRejectsInvalidPattern(t *testing.T) {
	r := New()
	if _, err := r.Subscribe("a..b", func(env protocol.Envelope) error { return nil }); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}
