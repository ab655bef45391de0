package signal

import (
	"testing"
	"time"

	"github.com/dork-labs/dorkos/pkg/protocol"
)

func TestEmitFansOutToAllListeners(t *testing.T) {
	e := New()
	var gotA, gotB protocol.Signal
	e.Attach(func(s protocol.Signal) { gotA = s })
	e.Attach(func(s protocol.Signal) { gotB = s })

	sig := protocol.Signal{Type: protocol.SignalTyping, EndpointSubject: "relay.agent.alpha", Timestamp: time.Now()}
	e.Emit(sig)

	if gotA.Type != protocol.SignalTyping || gotB.Type != protocol.SignalTyping {
		t.Fatalf("listeners did not both receive signal: %+v %+v", gotA, gotB)
	}
}

func TestEmitWithNoListenersIsNoop(t *testing.T) {
	e := New()
	e.Emit(protocol.Signal{Type: protocol.SignalPresence})
}

func TestDetachStopsDelivery(t *testing.T) {
	e := New()
	count := 0
	id := e.Attach(func(s protocol.Signal) { count++ })
	e.Emit(protocol.Signal{Type: protocol.SignalProgress})
	e.Detach(id)
	e.Emit(protocol.Signal{Type: protocol.SignalProgress})
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}
