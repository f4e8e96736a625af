// Package checkpoint persists conversation state per thread id. Stores
// provide compare-and-set semantics so a turn that raced another writer fails
// instead of clobbering state.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates no checkpoint exists for the thread.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrRevisionMismatch indicates the expected revision did not match the
	// stored one; another writer checkpointed the thread concurrently.
	ErrRevisionMismatch = errors.New("checkpoint revision mismatch")
)

// Snapshot is one persisted conversation state.
type Snapshot struct {
	// ThreadID identifies the conversation.
	ThreadID string `json:"thread_id"`

	// Revision increases on every save; used for compare-and-set.
	Revision uint64 `json:"revision"`

	// State is the serialized conversation state.
	State json.RawMessage `json:"state"`

	// UpdatedAt is when this snapshot was written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the checkpoint persistence interface. Save with expectedRevision 0
// creates; any other value must match the stored revision or
// ErrRevisionMismatch is returned.
type Store interface {
	// Load returns the latest snapshot for a thread, or ErrNotFound.
	Load(ctx context.Context, threadID string) (*Snapshot, error)

	// Save writes state under the thread id with compare-and-set on the
	// revision, returning the new revision.
	Save(ctx context.Context, threadID string, state json.RawMessage, expectedRevision uint64) (uint64, error)

	// Delete removes all state for a thread. Deleting a missing thread is
	// not an error.
	Delete(ctx context.Context, threadID string) error
}
