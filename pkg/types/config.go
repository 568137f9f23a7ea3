package types

import "time"

// Config represents the quizmentor configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Upstream chat-completion provider
	Upstream UpstreamConfig `json:"upstream,omitempty" yaml:"upstream,omitempty"`

	// Relay tunables
	Relay RelayConfig `json:"relay,omitempty" yaml:"relay,omitempty"`

	// Prompt template file. Empty means the built-in default template.
	PromptTemplate string `json:"promptTemplate,omitempty" yaml:"promptTemplate,omitempty"`

	// SubjectCatalog is a JSONC file mapping subject ids to question data.
	SubjectCatalog string `json:"subjectCatalog,omitempty" yaml:"subjectCatalog,omitempty"`

	// DataDir is the root directory for persisted interaction logs.
	DataDir string `json:"dataDir,omitempty" yaml:"dataDir,omitempty"`

	// Log level: DEBUG|INFO|WARN|ERROR
	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
}

// UpstreamConfig holds provider connection settings.
type UpstreamConfig struct {
	BaseURL   string `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
	APIKey    string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Model     string `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
}

// RelayConfig holds the stream registry timing knobs. Zero values fall back
// to the defaults below.
type RelayConfig struct {
	// IdleThreshold is how long a streaming entry may go without buffer
	// growth before the heartbeat sweeper errors it out.
	IdleThreshold Duration `json:"idleThreshold,omitempty" yaml:"idleThreshold,omitempty"`
	// HeartbeatPeriod is how often the heartbeat sweeper runs.
	HeartbeatPeriod Duration `json:"heartbeatPeriod,omitempty" yaml:"heartbeatPeriod,omitempty"`
	// GracePeriod is how long terminal entries stay pollable before eviction.
	GracePeriod Duration `json:"gracePeriod,omitempty" yaml:"gracePeriod,omitempty"`
	// StaleCeiling evicts any entry idle this long, regardless of state.
	StaleCeiling Duration `json:"staleCeiling,omitempty" yaml:"staleCeiling,omitempty"`
	// CleanupPeriod is how often the cleanup sweeper runs.
	CleanupPeriod Duration `json:"cleanupPeriod,omitempty" yaml:"cleanupPeriod,omitempty"`
	// MaxStreamDuration is the absolute wall-clock cap per stream, enforced
	// by the worker itself.
	MaxStreamDuration Duration `json:"maxStreamDuration,omitempty" yaml:"maxStreamDuration,omitempty"`
}

// Default relay timings.
const (
	DefaultIdleThreshold     = 120 * time.Second
	DefaultHeartbeatPeriod   = 30 * time.Second
	DefaultGracePeriod       = 5 * time.Minute
	DefaultStaleCeiling      = 10 * time.Minute
	DefaultCleanupPeriod     = time.Minute
	DefaultMaxStreamDuration = 60 * time.Second
)

// WithDefaults returns a copy with zero fields replaced by defaults.
func (c RelayConfig) WithDefaults() RelayConfig {
	def := func(d *Duration, fallback time.Duration) {
		if *d <= 0 {
			*d = Duration(fallback)
		}
	}
	def(&c.IdleThreshold, DefaultIdleThreshold)
	def(&c.HeartbeatPeriod, DefaultHeartbeatPeriod)
	def(&c.GracePeriod, DefaultGracePeriod)
	def(&c.StaleCeiling, DefaultStaleCeiling)
	def(&c.CleanupPeriod, DefaultCleanupPeriod)
	def(&c.MaxStreamDuration, DefaultMaxStreamDuration)
	return c
}
