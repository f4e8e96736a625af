package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lisahq/lisa/llm"
	"github.com/lisahq/lisa/stream"
	"github.com/lisahq/lisa/workflow/prompts"
)

// recentWindow is how many conversation messages the reasoning prompt sees.
const recentWindow = 20

// rephraseReply ends the turn when the model never produced a decodable
// reasoning response.
const rephraseReply = "抱歉，我没有理解您的意思，请换一种说法再试一次。"

// reasoningNode streams the model's structured reasoning for the current
// stage, forwards thought deltas and progress to the consumer, and decides
// whether an artifact update follows.
func reasoningNode(ctx context.Context, s *State, side *Side) (string, error) {
	wf, stage, err := s.CurrentStage(side.Workflows)
	if err != nil {
		return NodeEnd, err
	}
	if wf == nil {
		return NodeEnd, fmt.Errorf("reasoning node reached without an active workflow")
	}

	messages := []llm.Message{
		{Role: "system", Content: prompts.ReasoningSystemPrompt(wf, stage, s.ArtifactsSummary())},
	}
	messages = append(messages, tail(s.LLMMessages(), recentWindow)...)

	decoder := &stream.Decoder{}
	processor := stream.NewProcessor(side.Emit, s.Plan, s.CurrentStageID)
	var raw strings.Builder

	_, err = side.Adapter.CompleteStream(ctx, llm.Request{
		Capability: "reasoning",
		Messages:   messages,
	}, func(chunk llm.StreamChunk) error {
		if chunk.Done {
			return nil
		}
		raw.WriteString(chunk.ContentDelta)
		processor.Observe(decoder.Feed(chunk.ContentDelta))
		return nil
	})
	if err != nil {
		return NodeEnd, err
	}

	final, decodeErr := decoder.Final()
	if decodeErr != nil {
		final, err = reaskReasoning(ctx, side, messages, raw.String(), decodeErr)
		if err != nil {
			if !llm.IsSchema(err) && !isDecodeFailure(err) {
				return NodeEnd, err
			}
			side.EmitError(stream.ErrKindSchema, err)
			side.Emit(stream.Event{Type: stream.TypeTextDelta, Delta: rephraseReply})
			s.Messages = append(s.Messages, Message{Role: "assistant", Content: rephraseReply})
			return NodeEnd, nil
		}
		processor.Observe(final)
	}

	s.Messages = append(s.Messages, Message{Role: "assistant", Content: final.Thought})

	if final.ShouldUpdateArtifact && stage.ArtifactKey != "" {
		return NodeArtifact, nil
	}
	return NodeEnd, nil
}

// reaskReasoning retries the reasoning call non-streaming with the broken
// output shown back to the model and a stricter instruction.
func reaskReasoning(ctx context.Context, side *Side, messages []llm.Message, broken string, cause error) (stream.ReasoningChunk, error) {
	retry := make([]llm.Message, 0, len(messages)+2)
	retry = append(retry, messages...)
	retry = append(retry,
		llm.Message{Role: "assistant", Content: broken},
		llm.Message{Role: "user", Content: fmt.Sprintf(
			"Your previous response was not valid (%v). Respond again with ONLY the JSON object described in the system message, no surrounding text.", cause)},
	)

	var chunk stream.ReasoningChunk
	err := llm.CompleteStructured(ctx, side.Adapter, llm.StructuredRequest{
		Request: llm.Request{
			Capability: "reasoning",
			Messages:   retry,
		},
		MaxSchemaRetries: 1,
	}, &chunk)
	if err != nil {
		return stream.ReasoningChunk{}, err
	}
	if chunk.Thought == "" {
		return stream.ReasoningChunk{}, errNoThought
	}
	return chunk, nil
}

// errNoThought marks a decoded response whose thought field was empty.
var errNoThought = errors.New("reasoning response has no thought")

// isDecodeFailure reports whether the re-ask failed on content rather than
// transport.
func isDecodeFailure(err error) bool {
	return errors.Is(err, errNoThought)
}

// tail returns the last n messages.
func tail(messages []llm.Message, n int) []llm.Message {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
