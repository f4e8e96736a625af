package graph

import (
	"context"

	"github.com/lisahq/lisa/router"
	"github.com/lisahq/lisa/stream"
)

// clarifyIntentNode ends the turn with the pending clarification question as
// the assistant message.
func clarifyIntentNode(_ context.Context, s *State, side *Side) (string, error) {
	question := s.Clarification
	if question == "" {
		question = router.DefaultClarification
	}
	s.Clarification = ""

	side.Emit(stream.Event{Type: stream.TypeTextDelta, Delta: question})
	s.Messages = append(s.Messages, Message{Role: "assistant", Content: question})
	return NodeEnd, nil
}
