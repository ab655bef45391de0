// Package discovery implements pluggable filesystem strategies that
// recognise agent project directories, and the scanner that walks a
// root applying them. See spec §4.15.
package discovery

import "github.com/dork-labs/dorkos/pkg/protocol"

// Hints is what a Strategy infers about a candidate directory.
type Hints struct {
	SuggestedName        string
	Description          string
	DetectedRuntime      string
	InferredCapabilities []string
}

// Strategy inspects a directory's contents and decides whether it looks
// like an agent project.
type Strategy interface {
	// Name identifies the strategy. The runtime recorded in a manifest
	// comes from Hints.DetectedRuntime, not from Name.
	Name() string
	// Detect inspects dirEntries (names only, already read by the
	// scanner) and returns hints plus true if this directory matches.
	Detect(path string, entryNames []string) (Hints, bool)
}

// AutoImportEvent is emitted when a directory already has a
// .dork/agent.json manifest — no strategy needed, the scanner just
// validates and hands it back for upsert without user intent.
type AutoImportEvent struct {
	Path     string
	Manifest protocol.AgentManifest
}

// DiscoveryCandidateEvent is emitted when a directory matched a
// strategy and is neither denied nor already registered at that path.
type DiscoveryCandidateEvent struct {
	Path  string
	Hints Hints
}

// Event is the tagged union streamed by ScanDirectory: exactly one of
// AutoImport, Candidate, or Err is set.
type Event struct {
	AutoImport *AutoImportEvent
	Candidate  *DiscoveryCandidateEvent
	Err        error
}
