package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/santiagomed/forge/logger"
	"google.golang.org/genai"
)

// GeminiBackend is a schema-constrained, vision capable backend.
type GeminiBackend struct {
	client *genai.Client
	config *BackendConfig
	usage  *usageLog
	logger logger.Logger
}

func NewGeminiBackend(ctx context.Context, cfg *BackendConfig, l logger.Logger) (*GeminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &GeminiBackend{client: client, config: cfg, usage: newUsageLog(cfg, l), logger: l}, nil
}

func (g *GeminiBackend) ID() string { return g.config.ID }

func (g *GeminiBackend) Capabilities() Capabilities {
	return Capabilities{Structured: true, Vision: true}
}

func (g *GeminiBackend) Complete(ctx context.Context, req Request) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(req.User)}
	if req.Image != nil {
		parts = append(parts, genai.NewPartFromBytes(req.Image.Data, req.Image.MIMEType))
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = req.Schema
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.config.ModelName,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		cfg,
	)
	if err != nil {
		return "", g.classify(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", badEnvelope(g.ID(), "no candidates returned from Gemini")
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	res := sb.String()
	if res == "" {
		return "", badEnvelope(g.ID(), "empty candidate returned from Gemini")
	}
	if resp.UsageMetadata != nil {
		g.usage.record(req.User, res, int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount))
	}
	return res, nil
}

// classify maps an HTTP failure onto its status kind. genai may wrap APIError by value
// or by pointer; anything else never got a response.
func (g *GeminiBackend) classify(err error) *ProviderError {
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		return &ProviderError{Backend: g.ID(), Kind: KindNetwork, Err: err}
	}
	return &ProviderError{
		Backend:    g.ID(),
		Kind:       kindForStatus(apiErr.Code),
		StatusCode: apiErr.Code,
		Body:       apiErr.Message,
	}
}
