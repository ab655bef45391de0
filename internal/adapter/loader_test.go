package adapter

import "testing"

func TestLoadBuiltinUnknownTypeErrors(t *testing.T) {
	l := NewLoader("")
	_, err := l.Load(ConfigEntry{ID: "x", Builtin: true, Type: "nonexistent"})
	if err == nil {
		t.Fatalf("expected error for unknown builtin type")
	}
}

func TestLoadNoSourceErrors(t *testing.T) {
	l := NewLoader("")
	_, err := l.Load(ConfigEntry{ID: "x"})
	if err == nil {
		t.Fatalf("expected error when no source is configured")
	}
}

func TestLoadCustomBuiltinFactory(t *testing.T) {
	l := NewLoader("")
	l.RegisterBuiltin("echo", func(map[string]any) (Adapter, error) {
		return &fakeAdapter{id: "echo", prefix: "channel.echo."}, nil
	})
	a, err := l.Load(ConfigEntry{ID: "e1", Builtin: true, Type: "echo"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if a.ID() != "echo" {
		t.Fatalf("ID() = %q, want echo", a.ID())
	}
}

func TestLoadRejectsEmptyIdentity(t *testing.T) {
	l := NewLoader("")
	l.RegisterBuiltin("broken", func(map[string]any) (Adapter, error) {
		return &fakeAdapter{id: "", prefix: ""}, nil
	})
	_, err := l.Load(ConfigEntry{ID: "b1", Builtin: true, Type: "broken"})
	if err == nil {
		t.Fatalf("expected shape validation to reject an adapter with empty id")
	}
}

func TestLoadUnrecognisedPluginExtension(t *testing.T) {
	l := NewLoader("")
	_, err := l.Load(ConfigEntry{ID: "p1", Plugin: &PluginRef{Path: "/tmp/adapter.dll"}})
	if err == nil {
		t.Fatalf("expected error for unrecognised plugin extension")
	}
}
