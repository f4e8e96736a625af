package router_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisahq/lisa/llm"
	"github.com/lisahq/lisa/llm/testutil"
	"github.com/lisahq/lisa/router"
	"github.com/lisahq/lisa/workflow"
)

func classify(t *testing.T, mock *testutil.MockAdapter, rc router.Context) *router.Classification {
	t.Helper()
	c := router.NewClassifier(mock, workflow.NewRegistry(), nil)
	result, err := c.Classify(context.Background(), rc)
	require.NoError(t, err)
	return result
}

func TestClassify_HighConfidence(t *testing.T) {
	mock := &testutil.MockAdapter{
		Responses: []*llm.Response{
			{Content: `{"intent": "START_TEST_DESIGN", "confidence": 0.95, "reason": "explicit request"}`},
		},
	}

	result := classify(t, mock, router.Context{
		Messages: []llm.Message{{Role: "user", Content: "帮我针对登录页面设计测试用例。"}},
	})

	assert.Equal(t, router.IntentStartTestDesign, result.Intent)
	assert.Equal(t, 0.95, result.Confidence)
	assert.Empty(t, result.Clarification)
}

func TestClassify_MidConfidenceKeepsClarification(t *testing.T) {
	mock := &testutil.MockAdapter{
		Responses: []*llm.Response{
			{Content: `{"intent": "START_REQUIREMENT_REVIEW", "confidence": 0.75, "clarification": "您是希望我帮您评审需求文档，还是直接设计测试用例？"}`},
		},
	}

	result := classify(t, mock, router.Context{
		Messages: []llm.Message{{Role: "user", Content: "看看这个需求有没有问题。"}},
	})

	assert.Equal(t, 0.75, result.Confidence)
	assert.Equal(t, "您是希望我帮您评审需求文档，还是直接设计测试用例？", result.Clarification)
}

func TestClassify_LowConfidenceSynthesizesClarification(t *testing.T) {
	mock := &testutil.MockAdapter{
		Responses: []*llm.Response{
			{Content: `{"intent": null, "confidence": 0.4}`},
		},
	}

	result := classify(t, mock, router.Context{
		Messages: []llm.Message{{Role: "user", Content: "嗯"}},
	})

	assert.Empty(t, result.Intent)
	assert.Equal(t, router.DefaultClarification, result.Clarification)
}

func TestClassify_ContinuationOfActiveWorkflow(t *testing.T) {
	mock := &testutil.MockAdapter{
		Responses: []*llm.Response{
			{Content: `{"intent": null, "confidence": 0.95, "reason": "answers the open question"}`},
		},
	}

	result := classify(t, mock, router.Context{
		CurrentWorkflow: workflow.TestDesignID,
		CurrentStage:    "需求澄清",
		Messages: []llm.Message{
			{Role: "assistant", Content: "登录支持哪些方式？"},
			{Role: "user", Content: "支持手机号和邮箱两种。"},
		},
	})

	assert.Empty(t, result.Intent)
	assert.GreaterOrEqual(t, result.Confidence, router.ConfirmThreshold)
	assert.Empty(t, result.Clarification)
}

func TestClassify_SameIntentDuringActiveWorkflow(t *testing.T) {
	mock := &testutil.MockAdapter{
		Responses: []*llm.Response{
			{Content: `{"intent": "START_TEST_DESIGN", "confidence": 0.8, "clarification": "确认重新开始？"}`},
		},
	}

	result := classify(t, mock, router.Context{
		CurrentWorkflow: workflow.TestDesignID,
		Messages:        []llm.Message{{Role: "user", Content: "继续补充注册页面的用例"}},
	})

	// Same-kind intent while active is a continuation; no clarification.
	assert.Equal(t, router.IntentStartTestDesign, result.Intent)
	assert.Empty(t, result.Clarification)
}

func TestClassify_UnknownIntentLabel(t *testing.T) {
	mock := &testutil.MockAdapter{
		Responses: []*llm.Response{
			{Content: `{"intent": "MAKE_COFFEE", "confidence": 0.99}`},
		},
	}

	result := classify(t, mock, router.Context{
		Messages: []llm.Message{{Role: "user", Content: "来杯咖啡"}},
	})

	assert.Empty(t, result.Intent)
	assert.Less(t, result.Confidence, router.ClarifyThreshold)
	assert.NotEmpty(t, result.Clarification)
}

func TestClassify_UpstreamFailureWrapped(t *testing.T) {
	cause := errors.New("connection refused")
	mock := &testutil.MockAdapter{Err: llm.NewTransientError(cause)}

	c := router.NewClassifier(mock, workflow.NewRegistry(), nil)
	_, err := c.Classify(context.Background(), router.Context{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})

	var routingErr *router.RoutingError
	require.ErrorAs(t, err, &routingErr)
	assert.ErrorIs(t, err, cause)
}

func TestClassify_ConfidenceClamped(t *testing.T) {
	mock := &testutil.MockAdapter{
		Responses: []*llm.Response{
			{Content: `{"intent": "START_TEST_DESIGN", "confidence": 1.7}`},
		},
	}

	result := classify(t, mock, router.Context{
		Messages: []llm.Message{{Role: "user", Content: "设计用例"}},
	})
	assert.Equal(t, 1.0, result.Confidence)
}
