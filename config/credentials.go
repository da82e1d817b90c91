package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/santiagomed/forge/llm"
	"github.com/zalando/go-keyring"
)

// KeyringService is the OS keyring service credentials are read from.
const KeyringService = "forge"

var ErrNoCredentials = errors.New("no credentials found")

// Credentials resolves secrets from the configuration, the environment and the OS
// keyring, in that order. It never writes.
type Credentials struct {
	getenv  func(string) string
	keyring func(service, user string) (string, error)
}

func NewCredentials() *Credentials {
	return &Credentials{getenv: os.Getenv, keyring: keyring.Get}
}

var providerEnv = map[llm.Provider]string{
	llm.ProviderOpenAI:    "OPENAI_API_KEY",
	llm.ProviderAnthropic: "ANTHROPIC_API_KEY",
	llm.ProviderGemini:    "GEMINI_API_KEY",
}

// APIKey returns the key of backend b. The keyring is searched under the backend id and
// then under the provider name.
func (c *Credentials) APIKey(b Backend) (string, error) {
	if b.APIKey != "" {
		return b.APIKey, nil
	}
	if v := c.getenv(envName(b.ID) + "_API_KEY"); v != "" {
		return v, nil
	}
	if v := c.getenv(providerEnv[llm.Provider(b.Provider)]); v != "" {
		return v, nil
	}
	for _, user := range []string{b.ID, b.Provider} {
		if v := c.lookup(user); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("backend %s: %w", b.ID, ErrNoCredentials)
}

var deployEnv = map[string]string{
	"github": "GITHUB_TOKEN",
	"vercel": "VERCEL_TOKEN",
}

// DeployToken returns the token of a deploy target, or "" when none is stored.
func (c *Credentials) DeployToken(target string) string {
	if name, ok := deployEnv[target]; ok {
		if v := c.getenv(name); v != "" {
			return v
		}
	}
	if v := c.getenv(envName(target) + "_TOKEN"); v != "" {
		return v
	}
	return c.lookup("deploy-" + target)
}

// lookup reads the keyring. A missing entry and an unavailable keyring both read as "".
func (c *Credentials) lookup(user string) string {
	if user == "" {
		return ""
	}
	v, err := c.keyring(KeyringService, user)
	if err != nil {
		return ""
	}
	return v
}

func envName(id string) string {
	return "FORGE_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(id))
}
