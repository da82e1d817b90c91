package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santiagomed/forge/logger"
)

const anthropicURL = "https://api.anthropic.com/v1/messages"

type AnthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
		Type string `json:"type"`
	} `json:"content"`
	ID         string `json:"id"`
	Model      string `json:"model"`
	Role       string `json:"role"`
	StopReason string `json:"stop_reason"`
	Type       string `json:"type"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type AnthropicErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type AnthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []AnthropicMessage `json:"messages"`
}

type AnthropicMessage struct {
	Role    string           `json:"role"`
	Content []AnthropicBlock `json:"content"`
}

type AnthropicBlock struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *AnthropicImageSource `json:"source,omitempty"`
}

type AnthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// AnthropicBackend is a free-form chat backend speaking the Messages API.
type AnthropicBackend struct {
	config     *BackendConfig
	usage      *usageLog
	logger     logger.Logger
	httpClient *http.Client
	url        string
}

func NewAnthropicBackend(cfg *BackendConfig, l logger.Logger) (*AnthropicBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic API key is required")
	}
	url := anthropicURL
	if cfg.BaseURL != "" {
		url = strings.TrimRight(cfg.BaseURL, "/") + "/v1/messages"
	}
	return &AnthropicBackend{
		config:     cfg,
		usage:      newUsageLog(cfg, l),
		logger:     l,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		url:        url,
	}, nil
}

func (a *AnthropicBackend) ID() string { return a.config.ID }

func (a *AnthropicBackend) Capabilities() Capabilities {
	return Capabilities{Structured: false, Vision: a.config.Vision}
}

func (a *AnthropicBackend) Complete(ctx context.Context, req Request) (string, error) {
	blocks := []AnthropicBlock{{Type: "text", Text: req.User}}
	if req.Image != nil {
		blocks = append([]AnthropicBlock{{
			Type: "image",
			Source: &AnthropicImageSource{
				Type:      "base64",
				MediaType: req.Image.MIMEType,
				Data:      base64.StdEncoding.EncodeToString(req.Image.Data),
			},
		}}, blocks...)
	}
	body := AnthropicRequest{
		Model:     a.config.ModelName,
		MaxTokens: 8192,
		System:    req.System,
		Messages:  []AnthropicMessage{{Role: "user", Content: blocks}},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("error marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", &ProviderError{Backend: a.ID(), Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ProviderError{Backend: a.ID(), Kind: KindNetwork, Err: fmt.Errorf("error reading response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(raw)
		var errResp AnthropicErrorResponse
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error.Message != "" {
			text = errResp.Error.Type + " - " + errResp.Error.Message
		}
		return "", &ProviderError{
			Backend:    a.ID(),
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Body:       text,
		}
	}

	var anthropicResp AnthropicResponse
	if err := json.Unmarshal(raw, &anthropicResp); err != nil {
		return "", badEnvelope(a.ID(), "unreadable response: "+err.Error())
	}

	var sb strings.Builder
	for _, c := range anthropicResp.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return "", badEnvelope(a.ID(), "no content returned from Anthropic")
	}

	res := sb.String()
	a.usage.record(req.User, res, anthropicResp.Usage.InputTokens, anthropicResp.Usage.OutputTokens)
	return res, nil
}
