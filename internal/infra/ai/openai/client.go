package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/tradelane/internal/domain/analysis"
	"github.com/bryanwahyu/tradelane/internal/domain/trade"
	"github.com/bryanwahyu/tradelane/internal/infra/ai/prompt"
)

const (
	maxTokens      = 2048
	defaultModel   = "llama-3.3-70b-versatile"
	defaultTimeout = 60 * time.Second
)

// ChatCompleter is the part of *openai.Client the classifier uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options configures NewClient.
type Options struct {
	APIKey       string
	BaseURL      string // any OpenAI-compatible endpoint, e.g. Groq
	Model        string
	VisionModels []string // tried in order
	ReportModel  string
	Timeout      time.Duration
}

// Client classifies products and writes reports through a chat completion
// API. It implements analysis.Classifier and analysis.Reporter.
type Client struct {
	API          ChatCompleter
	Model        string
	VisionModels []string
	ReportModel  string
	Timeout      time.Duration

	// SupportedHSCodes is listed in the prompt so the model prefers codes the
	// tariff schedule can price.
	SupportedHSCodes []trade.HSCode
}

var (
	_ analysis.Classifier = (*Client)(nil)
	_ analysis.Reporter   = (*Client)(nil)
)

func NewClient(opts Options, supported []trade.HSCode) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &Client{
		API:              openai.NewClientWithConfig(cfg),
		Model:            opts.Model,
		VisionModels:     opts.VisionModels,
		ReportModel:      opts.ReportModel,
		Timeout:          opts.Timeout,
		SupportedHSCodes: supported,
	}
}

// Classify resolves an HS code and bill of materials. Without a description
// the image is first described by a vision model.
func (c *Client) Classify(ctx context.Context, in analysis.ClassifyInput) (analysis.Classification, error) {
	description := strings.TrimSpace(in.Description)
	if description == "" {
		if in.ImageBase64 == "" {
			return analysis.Classification{}, trade.Validationf("description or image is required for classification")
		}
		d, err := c.describeImage(ctx, in.ProductName, in.ImageBase64)
		if err != nil {
			return analysis.Classification{}, err
		}
		description = d
	}

	model := c.model()
	content, err := c.complete(ctx, c.request(model, true,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: prompt.GetClassificationSystemPrompt()},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt.ClassificationUserPrompt(in.ProductName, description, c.SupportedHSCodes)},
	))
	if err != nil {
		return analysis.Classification{}, analysis.ClassificationError("classification request failed", err)
	}

	cls, err := prompt.ParseClassification(content)
	if err != nil {
		return analysis.Classification{}, analysis.ClassificationError("classifier returned an invalid response", err)
	}
	cls.ResolvedDescription = description
	cls.Model = model
	return cls, nil
}

// Report asks the report model for a narrative summary of r.
func (c *Client) Report(ctx context.Context, r *analysis.Record) (analysis.Report, error) {
	user, err := prompt.ReportUserPrompt(r)
	if err != nil {
		return analysis.Report{}, trade.Invariantf("encode record for report: %v", err)
	}
	model := c.ReportModel
	if model == "" {
		model = c.model()
	}
	content, err := c.complete(ctx, c.request(model, true,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: prompt.GetReportSystemPrompt()},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user},
	))
	if err != nil {
		return analysis.Report{}, trade.External(trade.CodeExternal, "report request failed", err)
	}
	rep, err := prompt.ParseReport(content)
	if err != nil {
		return analysis.Report{}, trade.External(trade.CodeExternal, "reporter returned an invalid response", err)
	}
	rep.AnalysisID = r.ID
	rep.Source = "model:" + model
	return rep, nil
}

// describeImage tries each vision model in order, moving on only when the
// model is unavailable.
func (c *Client) describeImage(ctx context.Context, productName, imageBase64 string) (string, error) {
	if len(c.VisionModels) == 0 {
		return "", analysis.ClassificationError("no vision model configured", nil)
	}
	url := imageBase64
	if !strings.HasPrefix(url, "data:") {
		url = "data:image/jpeg;base64," + imageBase64
	}

	var attempts []string
	for _, model := range c.VisionModels {
		content, err := c.complete(ctx, c.request(model, false, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt.VisionPrompt(productName)},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto}},
			},
		}))
		if err == nil {
			d := strings.TrimSpace(content)
			if d == "" {
				return "", analysis.ClassificationError("vision model "+model+" returned an empty description", nil)
			}
			return d, nil
		}
		if !ModelUnavailable(err) {
			return "", analysis.ClassificationError("image description failed", err)
		}
		attempts = append(attempts, fmt.Sprintf("%s: %v", model, err))
	}
	return "", analysis.ClassificationError("no working vision model available; tried "+strings.Join(attempts, "; "), nil)
}

func (c *Client) request(model string, jsonMode bool, msgs ...openai.ChatCompletionMessage) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if isReasoningModel(model) {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
		req.Temperature = 0
	}
	return req
}

func (c *Client) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.API.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) model() string {
	if c.Model == "" {
		return defaultModel
	}
	return c.Model
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// ModelUnavailable reports whether err means the model is decommissioned or
// unknown to the provider.
func ModelUnavailable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && (code == "model_decommissioned" || code == "model_not_found") {
			return true
		}
		if apiErr.HTTPStatusCode == http.StatusNotFound {
			return true
		}
		return strings.Contains(strings.ToLower(apiErr.Message), "decommissioned")
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusNotFound
	}
	return false
}
