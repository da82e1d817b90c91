package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/santiagomed/forge/logger"
	"github.com/sashabaranov/go-openai"
)

// OpenAIBackend is a free-form chat backend for OpenAI and OpenAI-compatible servers.
type OpenAIBackend struct {
	client *openai.Client
	config *BackendConfig
	usage  *usageLog
	logger logger.Logger
}

func NewOpenAIBackend(cfg *BackendConfig, l logger.Logger) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(oc),
		config: cfg,
		usage:  newUsageLog(cfg, l),
		logger: l,
	}, nil
}

func (c *OpenAIBackend) ID() string { return c.config.ID }

func (c *OpenAIBackend) Capabilities() Capabilities {
	return Capabilities{Structured: false, Vision: c.config.Vision}
}

func (c *OpenAIBackend) Complete(ctx context.Context, req Request) (string, error) {
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if req.Image != nil {
		dataURL := fmt.Sprintf("data:%s;base64,%s", req.Image.MIMEType, base64.StdEncoding.EncodeToString(req.Image.Data))
		user.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: req.User},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: openai.ImageURLDetailAuto}},
		}
	} else {
		user.Content = req.User
	}

	chat := openai.ChatCompletionRequest{
		Model: c.config.ModelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			user,
		},
	}
	if req.Schema != nil {
		chat.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chat)
	if err != nil {
		return "", c.classify(err)
	}

	if len(resp.Choices) == 0 {
		return "", badEnvelope(c.ID(), "no choices returned from OpenAI")
	}
	res := resp.Choices[0].Message.Content
	c.usage.record(req.User, res, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return res, nil
}

func (c *OpenAIBackend) classify(err error) error {
	apiErr := &openai.APIError{}
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Backend:    c.ID(),
			Kind:       kindForStatus(apiErr.HTTPStatusCode),
			StatusCode: apiErr.HTTPStatusCode,
			Body:       apiErr.Message,
		}
	}
	reqErr := &openai.RequestError{}
	if errors.As(err, &reqErr) {
		return &ProviderError{
			Backend:    c.ID(),
			Kind:       kindForStatus(reqErr.HTTPStatusCode),
			StatusCode: reqErr.HTTPStatusCode,
			Err:        reqErr.Err,
		}
	}
	return &ProviderError{Backend: c.ID(), Kind: KindNetwork, Err: err}
}
