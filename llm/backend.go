package llm

import (
	"context"
	"fmt"

	"github.com/santiagomed/forge/logger"
	tellm "github.com/santiagomed/tellm/sdk"
)

// Provider names the wire protocol a backend speaks.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// BackendConfig describes one backend: a provider and a model reachable with a key.
type BackendConfig struct {
	ID        string
	Provider  Provider
	APIKey    string
	ModelName string
	// BaseURL overrides the provider endpoint, e.g. for OpenAI-compatible servers.
	BaseURL  string
	Vision   bool
	BatchID  string
	TellmURL string
}

// NewBackend builds the backend for cfg.Provider.
func NewBackend(ctx context.Context, cfg *BackendConfig, l logger.Logger) (Backend, error) {
	if l == nil {
		l = logger.NewNullLogger()
	}
	if cfg.ID == "" {
		cfg.ID = string(cfg.Provider)
	}
	cfg.BatchID = EnsureBatchID(cfg.BatchID)
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIBackend(cfg, l)
	case ProviderAnthropic:
		return NewAnthropicBackend(cfg, l)
	case ProviderGemini:
		return NewGeminiBackend(ctx, cfg, l)
	default:
		return nil, fmt.Errorf("unknown provider %q for backend %s", cfg.Provider, cfg.ID)
	}
}

// usageLog forwards token usage to a tellm server when one is configured.
type usageLog struct {
	client  *tellm.Client
	batchID string
	model   string
	logger  logger.Logger
}

func newUsageLog(cfg *BackendConfig, l logger.Logger) *usageLog {
	u := &usageLog{batchID: cfg.BatchID, model: cfg.ModelName, logger: l}
	if cfg.TellmURL != "" {
		u.client = tellm.NewClient(cfg.TellmURL)
	}
	return u
}

func (u *usageLog) record(prompt, res string, in, out int) {
	if u == nil || u.client == nil {
		return
	}
	if err := u.client.Log(u.batchID, prompt, res, u.model, in, out); err != nil {
		u.logger.WithField("warning", err).Warn("failed to log to tellm")
	}
}
