package ratelimit

import (
	"testing"
	"time"
)

func TestAllowRejectsOverWindowMax(t *testing.T) {
	l := New(Config{WindowSeconds: 60, MaxPerWindow: 2, BucketSeconds: 60}, nil)
	fixed := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return fixed }

	if !l.Allow("sender-a") {
		t.Fatal("expected first event to be allowed")
	}
	if !l.Allow("sender-a") {
		t.Fatal("expected second event to be allowed")
	}
	if l.Allow("sender-a") {
		t.Fatal("expected third event to be rejected")
	}
}

func TestAllowTracksSendersIndependently(t *testing.T) {
	l := New(Config{WindowSeconds: 60, MaxPerWindow: 1, BucketSeconds: 60}, nil)
	if !l.Allow("a") {
		t.Fatal("expected a's first event to be allowed")
	}
	if !l.Allow("b") {
		t.Fatal("expected b's first event to be allowed, independent of a")
	}
}

func TestAllowHonoursPerSenderOverride(t *testing.T) {
	l := New(Config{WindowSeconds: 60, MaxPerWindow: 1, BucketSeconds: 60}, map[string]Config{
		"vip": {WindowSeconds: 60, MaxPerWindow: 5, BucketSeconds: 60},
	})
	for i := 0; i < 5; i++ {
		if !l.Allow("vip") {
			t.Fatalf("expected vip event %d to be allowed", i)
		}
	}
	if l.Allow("vip") {
		t.Fatal("expected vip's 6th event to be rejected")
	}
}

func TestAllowExpiresOldBuckets(t *testing.T) {
	l := New(Config{WindowSeconds: 60, MaxPerWindow: 1, BucketSeconds: 30}, nil)
	base := time.Unix(1_700_000_000, 0)
	now := base
	l.now = func() time.Time { return now }

	if !l.Allow("a") {
		t.Fatal("expected first event to be allowed")
	}
	if l.Allow("a") {
		t.Fatal("expected second event in same window to be rejected")
	}

	now = base.Add(2 * time.Minute)
	if !l.Allow("a") {
		t.Fatal("expected event after window expiry to be allowed")
	}
}
