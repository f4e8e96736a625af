package graph

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisahq/lisa/checkpoint"
	"github.com/lisahq/lisa/llm"
	"github.com/lisahq/lisa/llm/testutil"
	"github.com/lisahq/lisa/stream"
	"github.com/lisahq/lisa/workflow"
)

func newTestRuntime(t *testing.T, mock *testutil.MockAdapter, opts ...RuntimeOption) *Runtime {
	t.Helper()
	return NewRuntime(mock, workflow.NewRegistry(), checkpoint.NewMemoryStore(), opts...)
}

func userTurn(text string) Input {
	return Input{Messages: []InputMessage{{Role: "user", Content: text}}}
}

func collectEvents(events *[]stream.Event) stream.Emitter {
	return func(e stream.Event) { *events = append(*events, e) }
}

func TestStream_HighConfidenceStartsWorkflow(t *testing.T) {
	mock := &testutil.MockAdapter{
		Responses: []*llm.Response{
			{Content: `{"intent": "START_TEST_DESIGN", "confidence": 0.95}`},
			{Content: `{"thought": "好的，我们先澄清登录页面的需求范围。", "progress_step": "澄清需求", "should_update_artifact": false}`},
		},
	}
	rt := newTestRuntime(t, mock)

	var events []stream.Event
	state, err := rt.Stream(context.Background(), "t1", userTurn("帮我针对登录页面设计测试用例。"), collectEvents(&events))
	require.NoError(t, err)

	assert.Equal(t, workflow.TestDesignID, state.CurrentWorkflow)
	require.Len(t, state.Plan, 4)
	assert.Equal(t, "clarify", state.Plan[0].ID)
	assert.Equal(t, workflow.StageActive, state.Plan[0].Status)
	for _, ps := range state.Plan[1:] {
		assert.Equal(t, workflow.StagePending, ps.Status)
	}

	// Exactly one assistant message, carrying the final thought.
	var assistants []Message
	for _, m := range state.Messages {
		if m.Role == "assistant" {
			assistants = append(assistants, m)
		}
	}
	require.Len(t, assistants, 1)
	assert.Equal(t, "好的，我们先澄清登录页面的需求范围。", assistants[0].Content)

	// Concatenated deltas reconstruct the thought; progress was reported.
	var thought strings.Builder
	progress := 0
	for _, e := range events {
		switch e.Type {
		case stream.TypeTextDelta:
			thought.WriteString(e.Delta)
		case stream.TypeProgress:
			progress++
		}
	}
	assert.Equal(t, assistants[0].Content, thought.String())
	assert.Equal(t, 1, progress)

	require.NoError(t, state.Validate())
}

func TestStream_LowConfidenceClarifies(t *testing.T) {
	clarification := "您是希望我帮您评审需求文档，还是直接设计测试用例？"
	mock := &testutil.MockAdapter{
		Responses: []*llm.Response{
			{Content: `{"intent": "START_REQUIREMENT_REVIEW", "confidence": 0.75, "clarification": "` + clarification + `"}`},
		},
	}
	rt := newTestRuntime(t, mock)

	var events []stream.Event
	state, err := rt.Stream(context.Background(), "t1", userTurn("看看这个需求有没有问题。"), collectEvents(&events))
	require.NoError(t, err)

	// No workflow started; the clarification is the assistant message.
	assert.Empty(t, state.CurrentWorkflow)
	assert.Empty(t, state.Plan)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "assistant", state.Messages[1].Role)
	assert.Equal(t, clarification, state.Messages[1].Content)
	assert.Empty(t, state.Clarification)

	// One model call only: the router.
	assert.Equal(t, 1, mock.CallCount())
}

func TestStream_ArtifactTurnMergesAndPromotes(t *testing.T) {
	patchArgs := `{
		"key": "test_design_requirements",
		"artifact_type": "requirement",
		"content": {
			"scope": ["手机号登录", "邮箱登录"],
			"features": [{"id": "F1", "name": "登录", "detail": "支持手机号与邮箱"}]
		}
	}`
	mock := &testutil.MockAdapter{
		Responses: []*llm.Response{
			{Content: `{"intent": "START_TEST_DESIGN", "confidence": 0.95}`},
			{Content: `{"thought": "需求已经明确，我来记录。", "should_update_artifact": true}`},
			{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "update_structured_artifact", Arguments: patchArgs}}},
		},
	}
	rt := newTestRuntime(t, mock)

	var events []stream.Event
	state, err := rt.Stream(context.Background(), "t1", userTurn("范围是手机号和邮箱登录。"), collectEvents(&events))
	require.NoError(t, err)

	content := state.Artifacts["test_design_requirements"]
	require.NotNil(t, content)
	assert.Len(t, content["scope"], 2)

	// Hard requirements met, no open questions: clarify completes.
	assert.Equal(t, workflow.StageCompleted, state.Plan[0].Status)
	assert.Equal(t, workflow.StageActive, state.Plan[1].Status)
	assert.Equal(t, "strategy", state.CurrentStageID)
	require.NoError(t, state.Validate())

	var updated []string
	for _, e := range events {
		if e.Type == stream.TypeArtifactUpdated {
			updated = append(updated, e.Key)
		}
	}
	assert.Equal(t, []string{"test_design_requirements"}, updated)

	// The artifact call carried the update tool, forced.
	last := mock.Requests[len(mock.Requests)-1]
	require.Len(t, last.Tools, 1)
	assert.Equal(t, "update_structured_artifact", last.Tools[0].Name)
	assert.Equal(t, "update_structured_artifact", last.ToolChoice)
}

func TestStream_OpenQuestionsBlockPromotion(t *testing.T) {
	patchArgs := `{
		"key": "test_design_requirements",
		"artifact_type": "requirement",
		"content": {
			"scope": ["登录"],
			"features": [{"id": "F1", "name": "登录", "detail": "基本登录"}],
			"open_questions": [{"id": "q1", "text": "是否支持第三方登录？", "status": "open"}]
		}
	}`
	mock := &testutil.MockAdapter{
		Responses: []*llm.Response{
			{Content: `{"intent": "START_TEST_DESIGN", "confidence": 0.95}`},
			{Content: `{"thought": "还有一个问题需要确认。", "should_update_artifact": true}`},
			{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "update_structured_artifact", Arguments: patchArgs}}},
		},
	}
	rt := newTestRuntime(t, mock)

	state, err := rt.Invoke(context.Background(), "t1", userTurn("范围是登录。"))
	require.NoError(t, err)

	assert.Equal(t, "clarify", state.CurrentStageID)
	assert.Equal(t, workflow.StageActive, state.Plan[0].Status)

	// The open question is mirrored into the clarification tracking.
	require.Len(t, state.PendingClarifications, 1)
	assert.Equal(t, "q1", state.PendingClarifications[0].ID)
	assert.Equal(t, ClarificationOpen, state.PendingClarifications[0].Status)
}

func TestStream_MalformedPatchLeavesArtifactUntouched(t *testing.T) {
	mock := &testutil.MockAdapter{
		Responses: []*llm.Response{
			{Content: `{"intent": "START_TEST_DESIGN", "confidence": 0.95}`},
			{Content: `{"thought": "我来记录。", "should_update_artifact": true}`},
			{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "update_structured_artifact",
				Arguments: `{"key": "test_design_requirements", "artifact_type": "requirement", "content": "not a json"}`}}},
		},
	}
	rt := newTestRuntime(t, mock)

	var events []stream.Event
	state, err := rt.Stream(context.Background(), "t1", userTurn("开始吧。"), collectEvents(&events))
	require.NoError(t, err)

	assert.NotContains(t, state.Artifacts, "test_design_requirements")

	var kinds []string
	for _, e := range events {
		if e.Type == stream.TypeError {
			kinds = append(kinds, e.Error.Kind)
		}
	}
	assert.Equal(t, []string{stream.ErrKindPatch}, kinds)
	require.NoError(t, state.Validate())
}

func TestStream_RoutingFailureFallsBackToClarification(t *testing.T) {
	mock := &testutil.MockAdapter{Err: llm.NewTransientError(assert.AnError)}
	rt := newTestRuntime(t, mock)

	var events []stream.Event
	state, err := rt.Stream(context.Background(), "t1", userTurn("hi"), collectEvents(&events))
	require.NoError(t, err)

	require.Len(t, state.Messages, 2)
	assert.Equal(t, "assistant", state.Messages[1].Role)
	assert.NotEmpty(t, state.Messages[1].Content)

	var kinds []string
	for _, e := range events {
		if e.Type == stream.TypeError {
			kinds = append(kinds, e.Error.Kind)
		}
	}
	assert.Equal(t, []string{stream.ErrKindRouting}, kinds)
}

func TestStream_StatePersistsAcrossTurns(t *testing.T) {
	mock := &testutil.MockAdapter{
		Responses: []*llm.Response{
			{Content: `{"intent": "START_REQUIREMENT_REVIEW", "confidence": 0.75, "clarification": "您要评审哪份文档？"}`},
			{Content: `{"intent": "START_REQUIREMENT_REVIEW", "confidence": 0.95}`},
			{Content: `{"thought": "好的，开始评审登录需求。", "should_update_artifact": false}`},
		},
	}
	rt := newTestRuntime(t, mock)
	ctx := context.Background()

	_, err := rt.Invoke(ctx, "t1", userTurn("帮我看看需求。"))
	require.NoError(t, err)

	state, err := rt.Invoke(ctx, "t1", userTurn("评审登录需求文档。"))
	require.NoError(t, err)

	assert.Equal(t, workflow.RequirementReviewID, state.CurrentWorkflow)
	require.Len(t, state.Messages, 4)
	assert.Equal(t, "帮我看看需求。", state.Messages[0].Content)
	assert.Equal(t, "您要评审哪份文档？", state.Messages[1].Content)

	// Review workflow uses req_review_* keys.
	require.NotEmpty(t, state.ArtifactTemplates)
	assert.Equal(t, "req_review_requirements", state.ArtifactTemplates[0].ArtifactKey)
}

func TestStream_SchemaFailureAsksToRephrase(t *testing.T) {
	mock := &testutil.MockAdapter{
		Responses: []*llm.Response{
			{Content: `{"intent": "START_TEST_DESIGN", "confidence": 0.95}`},
			{Content: `I refuse to answer in JSON`},
			{Content: `still not json`},
			{Content: `nope`},
		},
	}
	rt := newTestRuntime(t, mock)

	var events []stream.Event
	state, err := rt.Stream(context.Background(), "t1", userTurn("设计用例"), collectEvents(&events))
	require.NoError(t, err)

	last := state.Messages[len(state.Messages)-1]
	assert.Equal(t, "assistant", last.Role)
	assert.Equal(t, rephraseReply, last.Content)

	var kinds []string
	for _, e := range events {
		if e.Type == stream.TypeError {
			kinds = append(kinds, e.Error.Kind)
		}
	}
	assert.Equal(t, []string{stream.ErrKindSchema}, kinds)
}

func TestStream_MaxDepthAborts(t *testing.T) {
	mock := &testutil.MockAdapter{
		Responses: []*llm.Response{
			{Content: `{"intent": "START_TEST_DESIGN", "confidence": 0.95}`},
		},
	}
	store := checkpoint.NewMemoryStore()
	rt := NewRuntime(mock, workflow.NewRegistry(), store, WithMaxTurnDepth(1))

	_, err := rt.Invoke(context.Background(), "t1", userTurn("设计用例"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max depth")

	// Mid-turn checkpoints were rolled back to the pre-turn state.
	snap, err := store.Load(context.Background(), "t1")
	require.NoError(t, err)
	var rolled State
	require.NoError(t, json.Unmarshal(snap.State, &rolled))
	assert.Empty(t, rolled.Messages)
}

func TestStream_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rt := newTestRuntime(t, &testutil.MockAdapter{})
	_, err := rt.Stream(ctx, "t1", userTurn("hi"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStream_RequiresThreadID(t *testing.T) {
	rt := newTestRuntime(t, &testutil.MockAdapter{})
	_, err := rt.Invoke(context.Background(), "", userTurn("hi"))
	assert.Error(t, err)
}
