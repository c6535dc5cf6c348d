// Package config provides configuration types and loading for agentgw.
package config

// Config is the root configuration struct.
// Top-level groups: Gateway, Model, Providers, Tools, Worker, Session, DataAPI, Timeline, Notify, Log.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Model     ModelConfig     `json:"model" yaml:"model"`
	Providers ProvidersConfig `json:"providers" yaml:"providers"`
	Tools     ToolsConfig     `json:"tools" yaml:"tools"`
	Worker    WorkerConfig    `json:"worker" yaml:"worker"`
	Session   SessionConfig   `json:"session" yaml:"session"`
	DataAPI   DataAPIConfig   `json:"dataApi" yaml:"dataApi"`
	Timeline  TimelineConfig  `json:"timeline" yaml:"timeline"`
	Notify    NotifyConfig    `json:"notify" yaml:"notify"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// ---------------------------------------------------------------------------
// Gateway – HTTP / WebSocket server
// ---------------------------------------------------------------------------

// GatewayConfig contains gateway server settings.
type GatewayConfig struct {
	Host      string `json:"host" yaml:"host" envconfig:"HOST"`
	Port      int    `json:"port" yaml:"port" envconfig:"PORT"`
	AuthToken string `json:"authToken" yaml:"authToken" envconfig:"AUTH_TOKEN"`
	// RecordErrorTurns appends a system turn to the transcript when a turn fails.
	RecordErrorTurns bool `json:"recordErrorTurns" yaml:"recordErrorTurns" envconfig:"RECORD_ERROR_TURNS"`
	// AllowedOrigins restricts WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string `json:"allowedOrigins" yaml:"allowedOrigins" envconfig:"ALLOWED_ORIGINS"`
	// MaxMessageBytes caps the size of one chat message.
	MaxMessageBytes int `json:"maxMessageBytes" yaml:"maxMessageBytes" envconfig:"MAX_MESSAGE_BYTES"`
}

// ---------------------------------------------------------------------------
// Model – LLM behaviour inside the worker
// ---------------------------------------------------------------------------

// ModelConfig groups LLM model and agent-loop settings.
type ModelConfig struct {
	Name              string  `json:"name" yaml:"name" envconfig:"NAME"`
	MaxTokens         int     `json:"maxTokens" yaml:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature       float64 `json:"temperature" yaml:"temperature" envconfig:"TEMPERATURE"`
	MaxToolIterations int     `json:"maxToolIterations" yaml:"maxToolIterations" envconfig:"MAX_TOOL_ITERATIONS"`
	SystemPrompt      string  `json:"systemPrompt" yaml:"systemPrompt" envconfig:"SYSTEM_PROMPT"`
}

// ---------------------------------------------------------------------------
// Providers – LLM API keys & endpoints
// ---------------------------------------------------------------------------

// ProvidersConfig contains LLM provider configurations.
type ProvidersConfig struct {
	OpenAI ProviderConfig `json:"openai" yaml:"openai"`
}

// ProviderConfig contains settings for a single LLM provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" yaml:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" yaml:"apiBase,omitempty" envconfig:"API_BASE"`
}

// ---------------------------------------------------------------------------
// Tools – what the agent may do
// ---------------------------------------------------------------------------

// ToolsConfig gates tool execution inside the worker.
type ToolsConfig struct {
	// MaxTier is the highest tool tier the agent may run. 0 is read-only.
	MaxTier int `json:"maxTier" yaml:"maxTier" envconfig:"MAX_TIER"`
	// Deny lists tools that never run.
	Deny []string `json:"deny" yaml:"deny" envconfig:"DENY"`
}

// ---------------------------------------------------------------------------
// Worker – subprocess bridge
// ---------------------------------------------------------------------------

// WorkerConfig controls how chat turns are executed in subprocesses.
type WorkerConfig struct {
	// Command is the worker executable. Empty means re-executing this binary.
	Command string `json:"command" yaml:"command" envconfig:"COMMAND"`
	// Args are placed before the prompt flag. Defaults to ["worker"] for the built-in worker.
	Args           []string `json:"args" yaml:"args" envconfig:"ARGS"`
	TimeoutSeconds int      `json:"timeoutSeconds" yaml:"timeoutSeconds" envconfig:"TIMEOUT_SECONDS"`
	MaxConcurrent  int      `json:"maxConcurrent" yaml:"maxConcurrent" envconfig:"MAX_CONCURRENT"`
	MaxOutputBytes int      `json:"maxOutputBytes" yaml:"maxOutputBytes" envconfig:"MAX_OUTPUT_BYTES"`
	// LenientFraming re-enables message extraction from non-JSON worker output.
	LenientFraming bool `json:"lenientFraming" yaml:"lenientFraming" envconfig:"LENIENT_FRAMING"`
}

// ---------------------------------------------------------------------------
// Session – transcript storage
// ---------------------------------------------------------------------------

// SessionConfig selects and tunes the session store.
type SessionConfig struct {
	// Driver is "memory", "sqlite", "mysql" or "postgres".
	Driver string `json:"driver" yaml:"driver" envconfig:"DRIVER"`
	DSN    string `json:"dsn" yaml:"dsn" envconfig:"DSN"`
	// MaxTurns is the trim threshold for one transcript.
	MaxTurns int `json:"maxTurns" yaml:"maxTurns" envconfig:"MAX_TURNS"`
	// IdleTTLMinutes expires idle in-memory sessions. Zero disables expiry.
	IdleTTLMinutes int `json:"idleTtlMinutes" yaml:"idleTtlMinutes" envconfig:"IDLE_TTL_MINUTES"`
}

// ---------------------------------------------------------------------------
// DataAPI – the site's CRUD service used by tools
// ---------------------------------------------------------------------------

// DataAPIConfig points tools at the site's REST API.
type DataAPIConfig struct {
	BaseURL        string `json:"baseUrl" yaml:"baseUrl" envconfig:"BASE_URL"`
	Token          string `json:"token" yaml:"token" envconfig:"TOKEN"`
	Username       string `json:"username" yaml:"username" envconfig:"LOGIN"`
	Password       string `json:"password" yaml:"password" envconfig:"PASSWORD"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds" envconfig:"TIMEOUT_SECONDS"`
}

// ---------------------------------------------------------------------------
// Timeline – turn audit log
// ---------------------------------------------------------------------------

// TimelineConfig configures the sqlite turn log.
type TimelineConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" envconfig:"ENABLED"`
	Path    string `json:"path" yaml:"path" envconfig:"DB_PATH"`
}

// ---------------------------------------------------------------------------
// Notify – outbound turn events
// ---------------------------------------------------------------------------

// NotifyConfig configures optional event sinks.
type NotifyConfig struct {
	KafkaBrokers    string `json:"kafkaBrokers" yaml:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`
	KafkaTopic      string `json:"kafkaTopic" yaml:"kafkaTopic" envconfig:"KAFKA_TOPIC"`
	SlackWebhookURL string `json:"slackWebhookUrl" yaml:"slackWebhookUrl" envconfig:"SLACK_WEBHOOK_URL"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" envconfig:"LEVEL"`
	Format string `json:"format" yaml:"format" envconfig:"FORMAT"` // "text" or "json"
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:            "127.0.0.1", // Secure default
			Port:            18890,
			MaxMessageBytes: 16 * 1024,
		},
		Model: ModelConfig{
			Name:              "anthropic/claude-sonnet-4-5",
			MaxTokens:         4096,
			Temperature:       0.3,
			MaxToolIterations: 10,
		},
		Tools: ToolsConfig{
			MaxTier: 1,
		},
		Worker: WorkerConfig{
			Args:           []string{"worker"},
			TimeoutSeconds: 120,
			MaxConcurrent:  4,
			MaxOutputBytes: 1 << 20,
		},
		Session: SessionConfig{
			Driver:   "memory",
			MaxTurns: 20,
		},
		DataAPI: DataAPIConfig{
			BaseURL:        "http://127.0.0.1:3001/api",
			TimeoutSeconds: 15,
		},
		Timeline: TimelineConfig{
			Enabled: true,
			Path:    "~/.agentgw/timeline.db",
		},
		Notify: NotifyConfig{
			KafkaTopic: "agentgw.turns",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
