package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATS KV bucket defaults.
const (
	DefaultBucket    = "LISA_CHECKPOINTS"
	DefaultBucketTTL = 30 * 24 * time.Hour
)

// NATSStore is a checkpoint store on a JetStream key-value bucket. The KV
// entry revision carries the compare-and-set semantics directly.
type NATSStore struct {
	bucket jetstream.KeyValue
}

// NATSOption configures a NATSStore.
type NATSOption func(*natsOptions)

type natsOptions struct {
	bucket string
	ttl    time.Duration
}

// WithBucket overrides the KV bucket name.
func WithBucket(name string) NATSOption {
	return func(o *natsOptions) {
		o.bucket = name
	}
}

// WithBucketTTL sets how long checkpoints are retained.
func WithBucketTTL(ttl time.Duration) NATSOption {
	return func(o *natsOptions) {
		o.ttl = ttl
	}
}

// NewNATSStore creates a checkpoint store on the given connection, creating
// the bucket if needed.
func NewNATSStore(ctx context.Context, nc *nats.Conn, opts ...NATSOption) (*NATSStore, error) {
	o := &natsOptions{
		bucket: DefaultBucket,
		ttl:    DefaultBucketTTL,
	}
	for _, opt := range opts {
		opt(o)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("get jetstream: %w", err)
	}

	// CreateOrUpdateKeyValue is idempotent and handles race conditions
	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      o.bucket,
		Description: "Conversation state checkpoints per thread",
		TTL:         o.ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update kv bucket: %w", err)
	}

	return &NATSStore{bucket: bucket}, nil
}

// Load implements Store.
func (s *NATSStore) Load(ctx context.Context, threadID string) (*Snapshot, error) {
	entry, err := s.bucket.Get(ctx, threadID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}

	return &Snapshot{
		ThreadID:  threadID,
		Revision:  entry.Revision(),
		State:     append(json.RawMessage(nil), entry.Value()...),
		UpdatedAt: entry.Created(),
	}, nil
}

// Save implements Store. The KV Create/Update revision check provides the
// compare-and-set.
func (s *NATSStore) Save(ctx context.Context, threadID string, state json.RawMessage, expectedRevision uint64) (uint64, error) {
	if expectedRevision == 0 {
		revision, err := s.bucket.Create(ctx, threadID, state)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyExists) {
				return 0, ErrRevisionMismatch
			}
			return 0, fmt.Errorf("create checkpoint: %w", err)
		}
		return revision, nil
	}

	revision, err := s.bucket.Update(ctx, threadID, state, expectedRevision)
	if err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return 0, ErrRevisionMismatch
		}
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return 0, ErrRevisionMismatch
		}
		return 0, fmt.Errorf("update checkpoint: %w", err)
	}
	return revision, nil
}

// Delete implements Store.
func (s *NATSStore) Delete(ctx context.Context, threadID string) error {
	if err := s.bucket.Delete(ctx, threadID); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
