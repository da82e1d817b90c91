package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/santiagomed/forge/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
backends:
  - id: local
    provider: openai
    model: llama3
    base_url: http://localhost:11434/v1
    requests_per_second: 5
  - id: gemini
    provider: gemini
    model: gemini-2.0-flash
    vision: true
default_backend: local
vision_backend: gemini
default_mode: form
agents:
  - id: pirate
    name: Pirate
    instruction: Talk like a pirate.
sandbox:
  settle: 2s
deploy:
  s3:
    endpoint: localhost:9000
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Len(t, cfg.Backends, 2)
	local, ok := cfg.Backend("local")
	require.True(t, ok)
	assert.Equal(t, "http://localhost:11434/v1", local.BaseURL)
	assert.Equal(t, 5.0, local.RequestsPerSecond)
	assert.Equal(t, "gemini", cfg.VisionBackend)
	assert.Equal(t, 2*time.Second, cfg.Sandbox.Settle)
	assert.Equal(t, 45*time.Second, cfg.Sandbox.Timeout)
	assert.True(t, cfg.Sandbox.Headless)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "us-east-1", cfg.Deploy.S3.Region)
	assert.Equal(t, "localhost:9000", cfg.Deploy.S3.Endpoint)

	agent, err := cfg.Agent("pirate")
	require.NoError(t, err)
	assert.True(t, agent.Custom)
	_, err = cfg.Agent("minimalist")
	assert.NoError(t, err)

	sc, err := cfg.SessionConfig("", "", "", "pirate")
	require.NoError(t, err)
	assert.Equal(t, core.ModeForm, sc.Mode)
	assert.Equal(t, "local", sc.Backend)
	assert.Equal(t, "gemini", sc.VisionBackend)
	assert.Equal(t, "Talk like a pirate.", sc.Agent.Instruction)
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("FORGE_DEFAULT_MODE", "document")
	t.Setenv("FORGE_SERVER_ADDR", ":9999")
	cfg, err := Load(writeConfig(t, "log_level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultBackends(), cfg.Backends)
	assert.Equal(t, "openai", cfg.DefaultBackend)
	assert.Equal(t, "document", cfg.DefaultMode)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Len(t, cfg.Agents, len(BuiltinAgents()))
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeConfig(t, "default_backend: nope\n"))
	assert.ErrorContains(t, err, "nope")

	_, err = Load(writeConfig(t, "default_mode: spreadsheet\n"))
	var ue *core.UnsupportedModeError
	assert.ErrorAs(t, err, &ue)

	_, err = Load(writeConfig(t, "backends:\n  - id: x\n    provider: cohere\ndefault_backend: x\n"))
	assert.ErrorContains(t, err, "cohere")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSessionConfig_Errors(t *testing.T) {
	cfg := &Config{Backends: DefaultBackends(), DefaultBackend: "openai", DefaultMode: "web-app", Agents: BuiltinAgents()}
	_, err := cfg.SessionConfig("web-app", "missing", "", "")
	assert.Error(t, err)
	_, err = cfg.SessionConfig("web-app", "", "", "ghost")
	assert.ErrorContains(t, err, "ghost")
	sc, err := cfg.SessionConfig("Multi-File-App", "anthropic", "", "")
	require.NoError(t, err)
	assert.Equal(t, core.ModeMultiFileApp, sc.Mode)
	assert.Nil(t, sc.Agent)
}

func TestCredentials_APIKey(t *testing.T) {
	keyring.MockInit()
	env := map[string]string{}
	c := &Credentials{getenv: func(k string) string { return env[k] }, keyring: keyring.Get}
	b := Backend{ID: "my-openai", Provider: "openai"}

	_, err := c.APIKey(b)
	assert.ErrorIs(t, err, ErrNoCredentials)

	require.NoError(t, keyring.Set(KeyringService, "openai", "from-keyring"))
	key, err := c.APIKey(b)
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", key)

	env["OPENAI_API_KEY"] = "from-provider-env"
	key, _ = c.APIKey(b)
	assert.Equal(t, "from-provider-env", key)

	env["FORGE_MY_OPENAI_API_KEY"] = "from-backend-env"
	key, _ = c.APIKey(b)
	assert.Equal(t, "from-backend-env", key)

	b.APIKey = "explicit"
	key, _ = c.APIKey(b)
	assert.Equal(t, "explicit", key)
}

func TestCredentials_DeployToken(t *testing.T) {
	keyring.MockInit()
	env := map[string]string{"VERCEL_TOKEN": "vc"}
	c := &Credentials{getenv: func(k string) string { return env[k] }, keyring: keyring.Get}

	assert.Equal(t, "vc", c.DeployToken("vercel"))
	assert.Empty(t, c.DeployToken("github"))
	require.NoError(t, keyring.Set(KeyringService, "deploy-github", "gh"))
	assert.Equal(t, "gh", c.DeployToken("github"))
	env["FORGE_S3_TOKEN"] = "ak:sk"
	assert.Equal(t, "ak:sk", c.DeployToken("s3"))
}
