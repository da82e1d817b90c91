package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/santiagomed/forge/core"
	"github.com/santiagomed/forge/deploy"
	"github.com/santiagomed/forge/llm"
	"github.com/santiagomed/forge/sandbox"
	"github.com/spf13/viper"
)

type Backend struct {
	ID       string `mapstructure:"id"`
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Vision   bool   `mapstructure:"vision"`
	// RequestsPerSecond of 0 leaves the backend unthrottled.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// LLMConfig converts b for llm.NewBackend. key is the resolved API key.
func (b Backend) LLMConfig(key, tellmURL string) *llm.BackendConfig {
	return &llm.BackendConfig{
		ID:        b.ID,
		Provider:  llm.Provider(b.Provider),
		APIKey:    key,
		ModelName: b.Model,
		BaseURL:   b.BaseURL,
		Vision:    b.Vision,
		TellmURL:  tellmURL,
	}
}

type Server struct {
	Addr        string        `mapstructure:"addr"`
	MaxSessions int           `mapstructure:"max_sessions"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

type Deploy struct {
	GitHubAPI  string              `mapstructure:"github_api"`
	VercelAPI  string              `mapstructure:"vercel_api"`
	VercelTeam string              `mapstructure:"vercel_team"`
	S3         deploy.BucketConfig `mapstructure:"s3"`
}

type Config struct {
	Backends       []Backend       `mapstructure:"backends"`
	DefaultBackend string          `mapstructure:"default_backend"`
	VisionBackend  string          `mapstructure:"vision_backend"`
	DefaultMode    string          `mapstructure:"default_mode"`
	DefaultAgent   string          `mapstructure:"default_agent"`
	Agents         []core.Agent    `mapstructure:"agents"`
	LogLevel       string          `mapstructure:"log_level"`
	TellmURL       string          `mapstructure:"tellm_url"`
	OutputDir      string          `mapstructure:"output_dir"`
	Server         Server          `mapstructure:"server"`
	Deploy         Deploy          `mapstructure:"deploy"`
	Sandbox        sandbox.Options `mapstructure:"sandbox"`
}

// DefaultBackends is used when the configuration names none.
func DefaultBackends() []Backend {
	return []Backend{
		{ID: "openai", Provider: string(llm.ProviderOpenAI), Model: "gpt-4o", Vision: true, RequestsPerSecond: 2, Burst: 4},
		{ID: "anthropic", Provider: string(llm.ProviderAnthropic), Model: "claude-3-5-sonnet-latest", Vision: true, RequestsPerSecond: 1, Burst: 2},
		{ID: "gemini", Provider: string(llm.ProviderGemini), Model: "gemini-2.0-flash", Vision: true, RequestsPerSecond: 2, Burst: 4},
	}
}

func setDefaults(v *viper.Viper) {
	sb := sandbox.DefaultOptions()
	v.SetDefault("default_backend", "openai")
	v.SetDefault("vision_backend", "")
	v.SetDefault("default_mode", string(core.ModeWebApp))
	v.SetDefault("default_agent", "")
	v.SetDefault("tellm_url", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("output_dir", "forge-output")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_sessions", 256)
	v.SetDefault("server.call_timeout", "5m")
	v.SetDefault("sandbox.headless", sb.Headless)
	v.SetDefault("sandbox.width", sb.Width)
	v.SetDefault("sandbox.height", sb.Height)
	v.SetDefault("sandbox.settle", sb.Settle.String())
	v.SetDefault("sandbox.timeout", sb.Timeout.String())
	v.SetDefault("sandbox.remote_url", "")
	v.SetDefault("sandbox.exec_path", "")
	v.SetDefault("deploy.vercel_team", "")
	v.SetDefault("deploy.s3.endpoint", "")
	v.SetDefault("deploy.s3.access_key", "")
	v.SetDefault("deploy.s3.secret_key", "")
	v.SetDefault("deploy.s3.region", "us-east-1")
	v.SetDefault("deploy.s3.use_ssl", true)
}

// Load reads the configuration. A .env file in the working directory is loaded into the
// environment first; FORGE_ prefixed variables override file values. With an empty path
// forge.yaml is looked up in the working directory and in ~/.forge, and may be absent.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("FORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		v.SetConfigName("forge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".forge"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if len(cfg.Backends) == 0 {
		cfg.Backends = DefaultBackends()
	}
	for i := range cfg.Agents {
		cfg.Agents[i].Custom = true
	}
	cfg.Agents = append(BuiltinAgents(), cfg.Agents...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i, b := range c.Backends {
		if b.ID == "" {
			c.Backends[i].ID = b.Provider
			b.ID = b.Provider
		}
		switch llm.Provider(b.Provider) {
		case llm.ProviderOpenAI, llm.ProviderAnthropic, llm.ProviderGemini:
		default:
			return fmt.Errorf("backend %s has unknown provider %q", b.ID, b.Provider)
		}
		if seen[b.ID] {
			return fmt.Errorf("backend %s is configured twice", b.ID)
		}
		seen[b.ID] = true
	}
	if _, ok := c.Backend(c.DefaultBackend); !ok {
		return fmt.Errorf("default backend %q is not configured", c.DefaultBackend)
	}
	if c.VisionBackend != "" {
		if _, ok := c.Backend(c.VisionBackend); !ok {
			return fmt.Errorf("vision backend %q is not configured", c.VisionBackend)
		}
	}
	if _, err := core.ParseMode(c.DefaultMode); err != nil {
		return err
	}
	return nil
}

func (c *Config) Backend(id string) (Backend, bool) {
	for _, b := range c.Backends {
		if b.ID == id {
			return b, true
		}
	}
	return Backend{}, false
}

// Agent looks an agent up by id. An empty id means no agent.
func (c *Config) Agent(id string) (*core.Agent, error) {
	if id == "" {
		return nil, nil
	}
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			a := c.Agents[i]
			return &a, nil
		}
	}
	return nil, fmt.Errorf("unknown agent %q", id)
}

// SessionConfig builds the per-session selection, falling back to the configured defaults.
func (c *Config) SessionConfig(mode, backend, visionBackend, agentID string) (core.SessionConfig, error) {
	if mode == "" {
		mode = c.DefaultMode
	}
	m, err := core.ParseMode(mode)
	if err != nil {
		return core.SessionConfig{}, err
	}
	if backend == "" {
		backend = c.DefaultBackend
	}
	if _, ok := c.Backend(backend); !ok {
		return core.SessionConfig{}, fmt.Errorf("backend %q is not configured", backend)
	}
	if visionBackend == "" {
		visionBackend = c.VisionBackend
	}
	if agentID == "" {
		agentID = c.DefaultAgent
	}
	agent, err := c.Agent(agentID)
	if err != nil {
		return core.SessionConfig{}, err
	}
	return core.NewSessionConfig(m, backend, visionBackend, agent), nil
}
