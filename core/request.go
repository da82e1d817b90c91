package core

// SessionConfig is the per-session selection passed into every stage call.
type SessionConfig struct {
	Mode    Mode   `mapstructure:"mode"`
	Backend string `mapstructure:"backend"`
	// VisionBackend serves the screenshot review. Backend is used when empty.
	VisionBackend string `mapstructure:"vision_backend"`
	Agent         *Agent `mapstructure:"-"`
}

// DefaultSessionConfig returns a SessionConfig with default values.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Mode:    ModeWebApp,
		Backend: "openai",
	}
}

func NewSessionConfig(mode Mode, backend, visionBackend string, agent *Agent) SessionConfig {
	return SessionConfig{
		Mode:          mode,
		Backend:       backend,
		VisionBackend: visionBackend,
		Agent:         agent,
	}
}

func (c SessionConfig) reviewBackend() string {
	if c.VisionBackend != "" {
		return c.VisionBackend
	}
	return c.Backend
}
