package namespace

import "testing"

func TestResolveUsesManifestNamespaceWhenPresent(t *testing.T) {
	ns, err := Resolve("/scan/proj", "/scan", "My Team!!")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ns != "my-team" {
		t.Fatalf("ns = %q, want my-team", ns)
	}
}

func TestResolveDerivesFromFirstPathSegment(t *testing.T) {
	ns, err := Resolve("/scan/Team_Alpha/project-x", "/scan", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ns != "team-alpha" {
		t.Fatalf("ns = %q, want team-alpha", ns)
	}
}

func TestResolveRejectsInvalidManifestNamespace(t *testing.T) {
	if _, err := Resolve("/scan/proj", "/scan", "!!!"); err == nil {
		t.Fatal("expected error for manifest namespace normalising to empty")
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	ns1, err := Resolve("/scan/Team_Alpha/project-x", "/scan", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	ns2, err := Resolve("/scan/proj", "/scan", ns1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ns1 != ns2 {
		t.Fatalf("ns1 = %q, ns2 = %q, want idempotent resolution", ns1, ns2)
	}
}
