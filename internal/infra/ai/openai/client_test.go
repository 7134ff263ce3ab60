package openai

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/tradelane/internal/domain/analysis"
	"github.com/bryanwahyu/tradelane/internal/domain/trade"
)

type reply struct {
	content string
	err     error
}

// fakeAPI answers per model and records the calls it received.
type fakeAPI struct {
	replies map[string]reply
	calls   []openai.ChatCompletionRequest
}

func (f *fakeAPI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls = append(f.calls, req)
	r, ok := f.replies[req.Model]
	if !ok {
		return openai.ChatCompletionResponse{}, errors.New("unexpected model " + req.Model)
	}
	if r.err != nil {
		return openai.ChatCompletionResponse{}, r.err
	}
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
		{Message: openai.ChatCompletionMessage{Content: r.content}},
	}}, nil
}

const motorJSON = `{"hs_code":"8501.10","confidence":0.9,"explanation":"motor","materials":[{"id":"m1","name":"copper","percentage":100,"origin_country":"CL","stage":"raw_material"}]}`

func decommissioned() error {
	return &openai.APIError{Code: "model_decommissioned", Message: "model has been decommissioned", HTTPStatusCode: http.StatusBadRequest}
}

func TestClassifyFromDescription(t *testing.T) {
	api := &fakeAPI{replies: map[string]reply{"text": {content: motorJSON}}}
	c := &Client{API: api, Model: "text", SupportedHSCodes: []trade.HSCode{"8501.10"}}

	cls, err := c.Classify(context.Background(), analysis.ClassifyInput{ProductName: "Motor", Description: "small DC motor"})
	require.NoError(t, err)

	assert.Equal(t, trade.HSCode("8501.10"), cls.HSCode)
	assert.Equal(t, "small DC motor", cls.ResolvedDescription)
	assert.Equal(t, "text", cls.Model)
	require.Len(t, api.calls, 1)
	require.NotNil(t, api.calls[0].ResponseFormat)
	assert.Contains(t, api.calls[0].Messages[1].Content, "8501.10")
}

func TestVisionFallsBackOnlyWhenModelUnavailable(t *testing.T) {
	api := &fakeAPI{replies: map[string]reply{
		"vision-old": {err: decommissioned()},
		"vision-new": {content: "A small electric motor with copper windings."},
		"text":       {content: motorJSON},
	}}
	c := &Client{API: api, Model: "text", VisionModels: []string{"vision-old", "vision-new"}}

	cls, err := c.Classify(context.Background(), analysis.ClassifyInput{ProductName: "Motor", ImageBase64: "aGVsbG8="})
	require.NoError(t, err)
	assert.Equal(t, "A small electric motor with copper windings.", cls.ResolvedDescription)
	require.Len(t, api.calls, 3)
	assert.Equal(t, "vision-new", api.calls[1].Model)
	assert.Equal(t, "data:image/jpeg;base64,aGVsbG8=", api.calls[1].Messages[0].MultiContent[1].ImageURL.URL)
}

func TestVisionStopsOnOtherErrors(t *testing.T) {
	api := &fakeAPI{replies: map[string]reply{
		"vision-a": {err: &openai.APIError{Message: "rate limited", HTTPStatusCode: http.StatusTooManyRequests}},
		"vision-b": {content: "never reached"},
	}}
	c := &Client{API: api, Model: "text", VisionModels: []string{"vision-a", "vision-b"}}

	_, err := c.Classify(context.Background(), analysis.ClassifyInput{ProductName: "Motor", ImageBase64: "eA=="})
	require.Error(t, err)
	assert.Equal(t, trade.CategoryExternal, trade.CategoryOf(err))
	assert.Len(t, api.calls, 1)
}

func TestAllVisionModelsUnavailable(t *testing.T) {
	api := &fakeAPI{replies: map[string]reply{
		"a": {err: decommissioned()},
		"b": {err: &openai.RequestError{HTTPStatusCode: http.StatusNotFound, Err: errors.New("not found")}},
	}}
	c := &Client{API: api, VisionModels: []string{"a", "b"}}

	_, err := c.Classify(context.Background(), analysis.ClassifyInput{ProductName: "x", ImageBase64: "eA=="})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tried a:")
	assert.Contains(t, err.Error(), "b:")
}

func TestClassifyNeedsDescriptionOrImage(t *testing.T) {
	c := &Client{API: &fakeAPI{}}
	_, err := c.Classify(context.Background(), analysis.ClassifyInput{ProductName: "x"})
	assert.ErrorIs(t, err, trade.ErrValidation)
}

func TestInvalidModelOutputIsClassificationFailure(t *testing.T) {
	api := &fakeAPI{replies: map[string]reply{"text": {content: "```json\n" + motorJSON + "\n```"}}}
	c := &Client{API: api, Model: "text"}

	_, err := c.Classify(context.Background(), analysis.ClassifyInput{ProductName: "Motor", Description: "motor"})
	var te *trade.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, trade.CodeClassification, te.Code)
}

func TestReport(t *testing.T) {
	api := &fakeAPI{replies: map[string]reply{
		"writer": {content: `{"summary_text":"Duty is 5%.","optimization_suggestions":["Source copper in MX"],"risk_advisory":"Moderate."}`},
	}}
	c := &Client{API: api, Model: "text", ReportModel: "writer"}

	rep, err := c.Report(context.Background(), &analysis.Record{ID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, analysis.ID("abc"), rep.AnalysisID)
	assert.Equal(t, "model:writer", rep.Source)
	assert.Equal(t, []string{"Source copper in MX"}, rep.OptimizationSuggestions)
}

func TestReasoningModelsUseCompletionTokens(t *testing.T) {
	c := &Client{}
	req := c.request("o3-mini", true)
	assert.Equal(t, maxTokens, req.MaxCompletionTokens)
	assert.Zero(t, req.MaxTokens)

	req = c.request("llama-3.3-70b-versatile", false)
	assert.Equal(t, maxTokens, req.MaxTokens)
	assert.Nil(t, req.ResponseFormat)
}

func TestModelUnavailable(t *testing.T) {
	assert.True(t, ModelUnavailable(decommissioned()))
	assert.True(t, ModelUnavailable(&openai.APIError{Code: "model_not_found"}))
	assert.True(t, ModelUnavailable(&openai.APIError{HTTPStatusCode: http.StatusNotFound}))
	assert.False(t, ModelUnavailable(&openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"}))
	assert.False(t, ModelUnavailable(errors.New("boom")))
}
