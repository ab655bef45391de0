package manifestio

import (
	"testing"
	"time"

	"github.com/dork-labs/dorkos/pkg/protocol"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := protocol.AgentManifest{
		Name: "alpha-agent", Runtime: "claude-code",
		Capabilities: []string{"code-review"},
		Behavior:     protocol.ManifestBehavior{ResponseMode: "always"},
		Budget:       protocol.ManifestBudget{MaxHopsPerMessage: 3, MaxCallsPerHour: 60},
		Namespace:    "team-alpha",
		RegisteredAt: time.Now().UTC().Truncate(time.Second),
		RegisteredBy: "scanner",
	}

	if err := WriteManifest(dir, m); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	if !Exists(dir) {
		t.Fatal("expected Exists to report true after write")
	}

	got, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if got.Name != m.Name || got.Runtime != m.Runtime || got.Namespace != m.Namespace {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, m)
	}
	if !got.RegisteredAt.Equal(m.RegisteredAt) {
		t.Fatalf("RegisteredAt = %v, want %v", got.RegisteredAt, m.RegisteredAt)
	}
}

func TestWriteManifestRejectsMissingRequiredFields(t *testing.T) {
	dir := t.TempDir()
	m := protocol.AgentManifest{Namespace: "x"} // missing name and runtime
	if err := WriteManifest(dir, m); err == nil {
		t.Fatal("expected WriteManifest to reject a manifest missing required fields")
	}
}

func TestReadManifestPreservesUnknownFields(t *testing.T) {
	dir := t.TempDir()
	m := protocol.AgentManifest{
		Name: "alpha-agent", Runtime: "cursor",
		Extra: map[string]any{"customField": "value"},
	}
	if err := WriteManifest(dir, m); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	got, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if got.Extra["customField"] != "value" {
		t.Fatalf("Extra[customField] = %v, want value", got.Extra["customField"])
	}
}
