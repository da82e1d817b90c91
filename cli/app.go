package cli

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/santiagomed/forge/config"
	"github.com/santiagomed/forge/core"
	"github.com/santiagomed/forge/deploy"
	"github.com/santiagomed/forge/llm"
	"github.com/santiagomed/forge/logger"
	"github.com/santiagomed/forge/metrics"
	"github.com/santiagomed/forge/sandbox"
)

// App holds the collaborators shared by every command.
type App struct {
	Config      *config.Config
	Credentials *config.Credentials
	Adapter     *llm.Adapter
	Registry    *core.Registry
	Browser     *sandbox.Browser
	Pipeline    *core.Pipeline
	Deployers   *deploy.Registry
	Metrics     *metrics.Collector
	Logger      logger.Logger
}

// NewApp registers every backend of cfg that has credentials. Backends without a key
// are skipped with a warning; at least one must remain.
func NewApp(ctx context.Context, cfg *config.Config, l logger.Logger) (*App, error) {
	if l == nil {
		l = logger.NewNullLogger()
	}

	m := metrics.New()
	app := &App{
		Config:      cfg,
		Credentials: config.NewCredentials(),
		Adapter:     llm.NewAdapter(l, m),
		Registry:    core.DefaultRegistry(),
		Metrics:     m,
		Logger:      l,
	}

	for _, b := range cfg.Backends {
		key, err := app.Credentials.APIKey(b)
		if err != nil {
			l.Warn(fmt.Sprintf("Skipping backend %s: %v", b.ID, err))
			continue
		}
		backend, err := llm.NewBackend(ctx, b.LLMConfig(key, cfg.TellmURL), l)
		if err != nil {
			return nil, err
		}
		app.Adapter.Register(backend, rate.Limit(b.RequestsPerSecond), b.Burst)
	}
	if len(app.Adapter.Backends()) == 0 {
		return nil, errors.New("no backend has an API key; set OPENAI_API_KEY, ANTHROPIC_API_KEY or GEMINI_API_KEY")
	}

	app.Browser = sandbox.NewBrowser(cfg.Sandbox, l)
	app.Pipeline = core.NewPipeline(app.Browser, app.Browser, l)

	app.Deployers = newDeployers(cfg, m, l)
	return app, nil
}

func newDeployers(cfg *config.Config, m *metrics.Collector, l logger.Logger) *deploy.Registry {
	r := deploy.NewRegistry(m, l)
	r.Register(deploy.NewGitHub(cfg.Deploy.GitHubAPI))
	r.Register(deploy.NewVercel(cfg.Deploy.VercelAPI, cfg.Deploy.VercelTeam))
	r.Register(deploy.NewBucket(cfg.Deploy.S3))
	return r
}

// NewSession opens a session publishing to pub.
func (a *App) NewSession(mode, backend, visionBackend, agent string, pub core.StepPublisher) (*core.Session, error) {
	cfg, err := a.Config.SessionConfig(mode, backend, visionBackend, agent)
	if err != nil {
		return nil, err
	}
	return core.NewSession(cfg, core.Dependencies{
		Invoker:   a.Adapter,
		Registry:  a.Registry,
		Publisher: pub,
		Logger:    a.Logger,
		Metrics:   a.Metrics,
	})
}

func (a *App) Close() {
	a.Browser.Close()
}
