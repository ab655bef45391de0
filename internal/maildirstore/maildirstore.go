// Package maildirstore implements the per-endpoint Maildir-style message
// store: new/cur/failed directories, atomic writes, and claim/complete/fail
// transitions. See spec §4.3.
package maildirstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dork-labs/dorkos/pkg/protocol"
)

// ErrNotFound is returned when a mailbox or message id does not exist.
var ErrNotFound = errors.New("maildirstore: not found")

// Store roots every endpoint mailbox under a single directory:
// <root>/mailboxes/<endpointHash>/{new,cur,failed}/.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Store rooted at root. root is created if absent.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("maildirstore: mkdir root: %w", err)
	}
	return &Store{root: root, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) lockFor(hash string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[hash]
	if !ok {
		l = &sync.Mutex{}
		s.locks[hash] = l
	}
	return l
}

func (s *Store) mailboxDir(hash string) string {
	return filepath.Join(s.root, "mailboxes", hash)
}

// EnsureMaildir idempotently creates the new/cur/failed directories for
// an endpoint hash.
func (s *Store) EnsureMaildir(hash string) error {
	dir := s.mailboxDir(hash)
	for _, sub := range []string{"new", "cur", "failed"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("maildirstore: ensure %s/%s: %w", hash, sub, err)
		}
	}
	return nil
}

// writeAtomic writes data to a temp file in dir then renames it to name,
// so a crash mid-write never leaves a partial file visible under name.
func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}

// Deliver writes envelope to new/<id>.json, assigning an id if the
// envelope does not already have one.
func (s *Store) Deliver(hash string, env protocol.Envelope) (string, error) {
	lock := s.lockFor(hash)
	lock.Lock()
	defer lock.Unlock()

	if err := s.EnsureMaildir(hash); err != nil {
		return "", err
	}
	if env.ID == "" {
		env.ID = protocol.NewID()
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("maildirstore: marshal envelope: %w", err)
	}

	newDir := filepath.Join(s.mailboxDir(hash), "new")
	if err := writeAtomic(newDir, env.ID+".json", data); err != nil {
		return "", fmt.Errorf("maildirstore: deliver %s/%s: %w", hash, env.ID, err)
	}
	return env.ID, nil
}

// Claim renames <id>.json from new/ to cur/, returning the envelope.
func (s *Store) Claim(hash, id string) (protocol.Envelope, error) {
	lock := s.lockFor(hash)
	lock.Lock()
	defer lock.Unlock()

	dir := s.mailboxDir(hash)
	src := filepath.Join(dir, "new", id+".json")
	dst := filepath.Join(dir, "cur", id+".json")

	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return protocol.Envelope{}, fmt.Errorf("%w: message %s in %s", ErrNotFound, id, hash)
		}
		return protocol.Envelope{}, fmt.Errorf("maildirstore: claim read %s/%s: %w", hash, id, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return protocol.Envelope{}, fmt.Errorf("maildirstore: claim rename %s/%s: %w", hash, id, err)
	}

	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("maildirstore: claim unmarshal %s/%s: %w", hash, id, err)
	}
	return env, nil
}

// Complete removes <id>.json from cur/, marking delivery final.
func (s *Store) Complete(hash, id string) error {
	lock := s.lockFor(hash)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(s.mailboxDir(hash), "cur", id+".json")
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil // already moved; never raise for a message already moved
		}
		return fmt.Errorf("maildirstore: complete %s/%s: %w", hash, id, err)
	}
	return nil
}

// Fail renames <id>.json from cur/ to failed/ and writes a dead-letter
// sidecar alongside it.
func (s *Store) Fail(hash, id, reason string) error {
	lock := s.lockFor(hash)
	lock.Lock()
	defer lock.Unlock()

	dir := s.mailboxDir(hash)
	src := filepath.Join(dir, "cur", id+".json")
	dst := filepath.Join(dir, "failed", id+".json")

	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			// Already moved (e.g. via a direct DLQ reject before claim);
			// nothing to rename, but the sidecar still needs writing.
			data = nil
		} else {
			return fmt.Errorf("maildirstore: fail read %s/%s: %w", hash, id, err)
		}
	} else if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("maildirstore: fail rename %s/%s: %w", hash, id, err)
	}

	var env protocol.Envelope
	if len(data) > 0 {
		json.Unmarshal(data, &env)
	}

	sidecar := protocol.DeadLetter{
		Reason:       reason,
		FailedAt:     time.Now().UTC(),
		EndpointHash: hash,
		Envelope:     env,
	}
	sidecarData, err := json.Marshal(sidecar)
	if err != nil {
		return fmt.Errorf("maildirstore: marshal sidecar %s/%s: %w", hash, id, err)
	}
	failedDir := filepath.Join(dir, "failed")
	if err := writeAtomic(failedDir, id+".reason.json", sidecarData); err != nil {
		return fmt.Errorf("maildirstore: write sidecar %s/%s: %w", hash, id, err)
	}
	return nil
}

// RejectToFailed writes an envelope directly into failed/ with a sidecar,
// without requiring a prior new/cur transition. Used by DeadLetterQueue
// when rejection happens before a maildir delivery (e.g. budget rejection).
func (s *Store) RejectToFailed(hash string, env protocol.Envelope, reason string) error {
	lock := s.lockFor(hash)
	lock.Lock()
	defer lock.Unlock()

	if err := s.EnsureMaildir(hash); err != nil {
		return err
	}
	if env.ID == "" {
		env.ID = protocol.NewID()
	}

	dir := s.mailboxDir(hash)
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("maildirstore: marshal envelope: %w", err)
	}
	failedDir := filepath.Join(dir, "failed")
	if err := writeAtomic(failedDir, env.ID+".json", data); err != nil {
		return fmt.Errorf("maildirstore: reject %s/%s: %w", hash, env.ID, err)
	}

	sidecar := protocol.DeadLetter{
		Reason:       reason,
		FailedAt:     time.Now().UTC(),
		EndpointHash: hash,
		Envelope:     env,
	}
	sidecarData, err := json.Marshal(sidecar)
	if err != nil {
		return fmt.Errorf("maildirstore: marshal sidecar %s/%s: %w", hash, env.ID, err)
	}
	if err := writeAtomic(failedDir, env.ID+".reason.json", sidecarData); err != nil {
		return fmt.Errorf("maildirstore: write sidecar %s/%s: %w", hash, env.ID, err)
	}
	return nil
}

// ListFailed returns the ids of every message in failed/ for hash,
// sorted ascending (ULID order).
func (s *Store) ListFailed(hash string) ([]string, error) {
	dir := filepath.Join(s.mailboxDir(hash), "failed")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("maildirstore: list failed %s: %w", hash, err)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		id := name[:len(name)-len(".json")]
		id = trimReasonSuffix(id)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func trimReasonSuffix(id string) string {
	const suffix = ".reason"
	if len(id) > len(suffix) && id[len(id)-len(suffix):] == suffix {
		return id[:len(id)-len(suffix)]
	}
	return id
}

// ReadEnvelope reads the envelope file for id out of whichever of
// new/cur/failed it currently resides in.
func (s *Store) ReadEnvelope(hash, id string) (protocol.Envelope, error) {
	dir := s.mailboxDir(hash)
	for _, sub := range []string{"new", "cur", "failed"} {
		data, err := os.ReadFile(filepath.Join(dir, sub, id+".json"))
		if err == nil {
			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				return protocol.Envelope{}, fmt.Errorf("maildirstore: unmarshal %s/%s: %w", hash, id, err)
			}
			return env, nil
		}
		if !os.IsNotExist(err) {
			return protocol.Envelope{}, fmt.Errorf("maildirstore: read %s/%s: %w", hash, id, err)
		}
	}
	return protocol.Envelope{}, fmt.Errorf("%w: message %s in %s", ErrNotFound, id, hash)
}

// ReadDeadLetter reads the sidecar file for a failed message.
func (s *Store) ReadDeadLetter(hash, id string) (protocol.DeadLetter, error) {
	path := filepath.Join(s.mailboxDir(hash), "failed", id+".reason.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return protocol.DeadLetter{}, fmt.Errorf("%w: dead letter %s in %s", ErrNotFound, id, hash)
		}
		return protocol.DeadLetter{}, fmt.Errorf("maildirstore: read dead letter %s/%s: %w", hash, id, err)
	}
	var dl protocol.DeadLetter
	if err := json.Unmarshal(data, &dl); err != nil {
		return protocol.DeadLetter{}, fmt.Errorf("maildirstore: unmarshal dead letter %s/%s: %w", hash, id, err)
	}
	return dl, nil
}

// PurgeFailed removes the envelope and sidecar files for id from
// failed/, used by DeadLetterQueue.purge.
func (s *Store) PurgeFailed(hash, id string) error {
	lock := s.lockFor(hash)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(s.mailboxDir(hash), "failed")
	for _, name := range []string{id + ".json", id + ".reason.json"} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("maildirstore: purge %s/%s: %w", hash, name, err)
		}
	}
	return nil
}

// ReclaimStale moves every message found in cur/ back to new/. Called on
// boot: a file in cur/ with no corresponding live claim (the process
// died mid-handler) is reclaimable, per spec §4.3's recovery rule.
func (s *Store) ReclaimStale(hash string) (int, error) {
	lock := s.lockFor(hash)
	lock.Lock()
	defer lock.Unlock()

	dir := s.mailboxDir(hash)
	curDir := filepath.Join(dir, "cur")
	entries, err := os.ReadDir(curDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("maildirstore: reclaim %s: %w", hash, err)
	}

	n := 0
	for _, e := range entries {
		src := filepath.Join(curDir, e.Name())
		dst := filepath.Join(dir, "new", e.Name())
		if err := os.Rename(src, dst); err != nil {
			return n, fmt.Errorf("maildirstore: reclaim %s/%s: %w", hash, e.Name(), err)
		}
		n++
	}
	return n, nil
}
