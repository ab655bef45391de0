// Package deadletter implements the thin wrapper over MaildirStore and
// SqliteIndex that handles terminal message rejection. See spec §4.8.
package deadletter

import (
	"context"
	"fmt"
	"time"

	"github.com/dork-labs/dorkos/internal/maildirstore"
	"github.com/dork-labs/dorkos/internal/sqliteindex"
	"github.com/dork-labs/dorkos/pkg/protocol"
)

// Queue rejects, lists, and purges terminal messages. The maildir
// sidecar is the source of truth for failedAt; the index is advisory
// and may be rebuilt from it.
type Queue struct {
	mailbox *maildirstore.Store
	index   *sqliteindex.Index
}

// New returns a Queue backed by mailbox and index.
func New(mailbox *maildirstore.Store, index *sqliteindex.Index) *Queue {
	return &Queue{mailbox: mailbox, index: index}
}

// Reject writes envelope and its sidecar into failed/ and marks the
// message as failed in the index, inserting a new row if none existed
// (e.g. a budget rejection that never reached maildir deliver).
func (q *Queue) Reject(ctx context.Context, endpointHash string, env protocol.Envelope, reason string) (string, error) {
	if env.ID == "" {
		env.ID = protocol.NewID()
	}

	if err := q.mailbox.RejectToFailed(endpointHash, env, reason); err != nil {
		return "", fmt.Errorf("deadletter: reject %s: %w", env.ID, err)
	}

	row := sqliteindex.MessageRow{
		ID:           env.ID,
		Subject:      env.Subject,
		EndpointHash: endpointHash,
		Status:       string(protocol.MessageFailed),
		CreatedAt:    env.CreatedAt,
	}
	if err := q.index.InsertMessage(ctx, row); err != nil {
		return "", fmt.Errorf("deadletter: index %s: %w", env.ID, err)
	}
	return env.ID, nil
}

// FailExisting moves an already-claimed message (hash, id) to failed/,
// for handler or delivery failures encountered after maildir deliver.
func (q *Queue) FailExisting(ctx context.Context, endpointHash, id, reason string) error {
	if err := q.mailbox.Fail(endpointHash, id, reason); err != nil {
		return fmt.Errorf("deadletter: fail %s: %w", id, err)
	}
	if err := q.index.UpdateStatus(ctx, id, string(protocol.MessageFailed)); err != nil {
		return fmt.Errorf("deadletter: index fail %s: %w", id, err)
	}
	return nil
}

// ListDead joins the maildir sidecars for endpointHash with their
// envelopes into DeadLetter records.
func (q *Queue) ListDead(endpointHash string) ([]protocol.DeadLetter, error) {
	ids, err := q.mailbox.ListFailed(endpointHash)
	if err != nil {
		return nil, fmt.Errorf("deadletter: list %s: %w", endpointHash, err)
	}

	out := make([]protocol.DeadLetter, 0, len(ids))
	for _, id := range ids {
		dl, err := q.mailbox.ReadDeadLetter(endpointHash, id)
		if err != nil {
			return nil, fmt.Errorf("deadletter: read %s/%s: %w", endpointHash, id, err)
		}
		out = append(out, dl)
	}
	return out, nil
}

// Purge removes sidecars and indexed rows whose failedAt precedes
// now-maxAge, within the single mailbox named by endpointHash. An empty
// endpointHash names no mailbox and purges nothing; callers sweeping every
// endpoint call Purge once per hash.
func (q *Queue) Purge(ctx context.Context, endpointHash string, maxAge time.Duration, now time.Time) (int, error) {
	ids, err := q.mailbox.ListFailed(endpointHash)
	if err != nil {
		return 0, fmt.Errorf("deadletter: purge list %s: %w", endpointHash, err)
	}

	purged := 0
	cutoff := now.Add(-maxAge)
	for _, id := range ids {
		dl, err := q.mailbox.ReadDeadLetter(endpointHash, id)
		if err != nil {
			continue
		}
		if dl.FailedAt.After(cutoff) {
			continue
		}
		if err := q.mailbox.PurgeFailed(endpointHash, id); err != nil {
			return purged, fmt.Errorf("deadletter: purge %s/%s: %w", endpointHash, id, err)
		}
		q.index.DeleteByID(ctx, id)
		purged++
	}
	return purged, nil
}
