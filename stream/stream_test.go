package stream_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisahq/lisa/stream"
)

// collect returns an emitter that appends into the given slice.
func collect(events *[]stream.Event) stream.Emitter {
	return func(e stream.Event) {
		*events = append(*events, e)
	}
}

func TestProcess_Deltas(t *testing.T) {
	chunks := []stream.ReasoningChunk{
		{Thought: "Hello"},
		{Thought: "Hello World"},
	}

	var events []stream.Event
	final := stream.Process(chunks, collect(&events), nil, "")

	require.Len(t, events, 2)
	assert.Equal(t, stream.TypeTextDelta, events[0].Type)
	assert.Equal(t, "Hello", events[0].Delta)
	assert.Equal(t, " World", events[1].Delta)
	assert.Equal(t, "Hello World", final.Thought)
}

func TestProcess_DeltasReconstructThought(t *testing.T) {
	chunks := []stream.ReasoningChunk{
		{Thought: "分析"},
		{Thought: "分析登录"},
		{Thought: "分析登录页面的"},
		{Thought: "分析登录页面的测试范围。"},
	}

	var events []stream.Event
	final := stream.Process(chunks, collect(&events), nil, "clarify")

	var sb strings.Builder
	for _, e := range events {
		if e.Type == stream.TypeTextDelta {
			sb.WriteString(e.Delta)
		}
	}
	assert.Equal(t, final.Thought, sb.String())
}

func TestProcess_ProgressDeduplicated(t *testing.T) {
	plan := []string{"clarify", "strategy"}
	chunks := []stream.ReasoningChunk{
		{Thought: "a", ProgressStep: "analyzing scope"},
		{Thought: "ab", ProgressStep: "analyzing scope"},
		{Thought: "abc", ProgressStep: "drafting questions"},
		{Thought: "abcd", ProgressStep: "drafting questions"},
	}

	var events []stream.Event
	stream.Process(chunks, collect(&events), plan, "clarify")

	var progress []stream.Event
	for _, e := range events {
		if e.Type == stream.TypeProgress {
			progress = append(progress, e)
		}
	}
	require.Len(t, progress, 2)
	assert.Equal(t, "analyzing scope", progress[0].Progress.CurrentTask)
	assert.Equal(t, "drafting questions", progress[1].Progress.CurrentTask)
	assert.Equal(t, "clarify", progress[0].Progress.CurrentStageID)
	assert.Equal(t, plan, progress[0].Progress.Plan)
}

func TestProcess_EmptyInput(t *testing.T) {
	var events []stream.Event
	final := stream.Process(nil, collect(&events), nil, "")

	assert.Empty(t, events)
	assert.Equal(t, stream.ReasoningChunk{}, final)
}

func TestProcess_RepeatedThoughtEmitsNoEmptyDelta(t *testing.T) {
	chunks := []stream.ReasoningChunk{
		{Thought: "same"},
		{Thought: "same"},
		{Thought: "same", ShouldUpdateArtifact: true},
	}

	var events []stream.Event
	final := stream.Process(chunks, collect(&events), nil, "")

	require.Len(t, events, 1)
	assert.Equal(t, "same", events[0].Delta)
	assert.True(t, final.ShouldUpdateArtifact)
}

func TestProcess_FinalChunkVerbatim(t *testing.T) {
	chunks := []stream.ReasoningChunk{
		{Thought: "partial"},
		{Thought: "partial done", ProgressStep: "finishing", ShouldUpdateArtifact: true},
	}

	var events []stream.Event
	final := stream.Process(chunks, collect(&events), nil, "")

	assert.Equal(t, chunks[len(chunks)-1], final)
}
