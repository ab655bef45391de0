package discovery

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/dork-labs/dorkos/internal/manifestio"
)

// Options bound a scan: walk depth, exclusions, symlink policy, and
// paths already rejected by the operator.
type Options struct {
	MaxDepth       int
	ExcludeDirs    []string // e.g. ".git", "node_modules", "dist", "build"
	FollowSymlinks bool
	DenyList       []string
	// AlreadyRegistered reports whether path is already registered, so
	// the scanner can skip emitting a duplicate DiscoveryCandidateEvent.
	AlreadyRegistered func(path string) bool `json:"-"`
}

// DefaultOptions matches a conservative default exclusion set.
func DefaultOptions() Options {
	return Options{
		MaxDepth:    6,
		ExcludeDirs: []string{".git", "node_modules", "dist", "build", "vendor", ".dork"},
	}
}

// ScanDirectory walks root applying strategies, sending events on the
// returned channel until the walk completes (the channel is then
// closed). The caller drains it.
func ScanDirectory(root string, strategies []Strategy, opts Options) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		walk(root, root, 0, strategies, opts, events)
	}()
	return events
}

func walk(root, dir string, depth int, strategies []Strategy, opts Options, events chan<- Event) {
	if opts.MaxDepth > 0 && depth > opts.MaxDepth {
		return
	}
	if slices.Contains(opts.DenyList, dir) {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		events <- Event{Err: err}
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	if manifestio.Exists(dir) {
		m, err := manifestio.ReadManifest(dir)
		if err != nil {
			events <- Event{Err: err}
		} else {
			events <- Event{AutoImport: &AutoImportEvent{Path: dir, Manifest: m}}
		}
		// A manifest marks this directory as the agent's root; don't
		// also run candidate strategies against it, but do keep
		// descending in case a sub-project independently qualifies.
	} else if opts.AlreadyRegistered == nil || !opts.AlreadyRegistered(dir) {
		for _, s := range strategies {
			if hints, ok := s.Detect(dir, names); ok {
				events <- Event{Candidate: &DiscoveryCandidateEvent{Path: dir, Hints: hints}}
				break
			}
		}
	}

	for _, e := range entries {
		isSymlink := e.Type()&fs.ModeSymlink != 0
		if !e.IsDir() && !isSymlink {
			continue
		}
		if slices.Contains(opts.ExcludeDirs, e.Name()) {
			continue
		}
		childPath := filepath.Join(dir, e.Name())

		if isSymlink {
			if !opts.FollowSymlinks {
				continue
			}
			info, err := os.Stat(childPath)
			if err != nil || !info.IsDir() {
				continue
			}
		}

		walk(root, childPath, depth+1, strategies, opts, events)
	}
}
