package graph

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lisahq/lisa/stream"
)

// EventSubjectPrefix is the NATS subject root for turn events. The full
// subject is lisa.turn.<thread_id>.<event_type>.
const EventSubjectPrefix = "lisa.turn"

// Publisher fans turn events out to NATS subjects so consumers other than
// the invoking caller (UIs, audit) can follow a conversation.
type Publisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewPublisher creates an event publisher. A nil connection produces a
// publisher whose emitters drop events, so callers can wire it
// unconditionally.
func NewPublisher(nc *nats.Conn, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{nc: nc, logger: logger}
}

// Emitter returns a stream.Emitter that publishes each event for the thread.
// Publishing is fire-and-forget; a failed publish is logged, never surfaced
// into the turn.
func (p *Publisher) Emitter(threadID string) stream.Emitter {
	if p == nil || p.nc == nil {
		return func(stream.Event) {}
	}

	var seq atomic.Uint64
	return func(e stream.Event) {
		envelope := &EventEnvelope{
			ThreadID:  threadID,
			Seq:       seq.Add(1),
			Event:     e,
			EmittedAt: time.Now().UTC(),
		}
		if err := envelope.Validate(); err != nil {
			p.logger.Warn("Dropping invalid turn event", "thread_id", threadID, "error", err)
			return
		}
		data, err := envelope.Marshal()
		if err != nil {
			p.logger.Warn("Encode turn event failed", "thread_id", threadID, "error", err)
			return
		}
		subject := fmt.Sprintf("%s.%s.%s", EventSubjectPrefix, threadID, e.Type)
		if err := p.nc.Publish(subject, data); err != nil {
			p.logger.Warn("Publish turn event failed", "subject", subject, "error", err)
		}
	}
}

// Tee combines two emitters; both see every event in order.
func Tee(a, b stream.Emitter) stream.Emitter {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(e stream.Event) {
		a(e)
		b(e)
	}
}
