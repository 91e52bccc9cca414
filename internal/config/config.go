package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete Parley configuration
type Config struct {
	Agent     AgentConfig     `mapstructure:"agent"`
	Session   SessionConfig   `mapstructure:"session"`
	Turn      TurnConfig      `mapstructure:"turn"`
	Transport TransportConfig `mapstructure:"transport"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AgentConfig describes the interactive agent process Parley drives
type AgentConfig struct {
	// Executable is the agent binary to launch (default: "claude")
	Executable string `mapstructure:"executable"`
	// Args are extra arguments passed to the executable on every launch
	Args []string `mapstructure:"args"`
	// Workdir is the working directory for the agent process.
	// If empty, the agent inherits Parley's working directory.
	// Supports ~ for home directory expansion.
	Workdir string `mapstructure:"workdir"`
	// Model is the model name passed to the agent via --model.
	// If empty, the agent's own default is used.
	Model string `mapstructure:"model"`
	// PromptPattern is the regular expression that marks the agent's
	// idle prompt at the end of output (default: "\n> ")
	PromptPattern string `mapstructure:"prompt_pattern"`
	// TermWidth is the width of the agent's pseudo-terminal in columns
	TermWidth int `mapstructure:"term_width"`
	// TermHeight is the height of the agent's pseudo-terminal in rows
	TermHeight int `mapstructure:"term_height"`
}

// SessionConfig controls session lifecycle behavior
type SessionConfig struct {
	// ReadyTimeoutSeconds is how long to wait for the first prompt after
	// launch before treating the session as ready anyway
	ReadyTimeoutSeconds int `mapstructure:"ready_timeout_seconds"`
	// GracePeriodSeconds is how long a stopping process gets between the
	// interrupt signal and the kill
	GracePeriodSeconds int `mapstructure:"grace_period_seconds"`
	// LivenessIntervalMs is how often the supervisor checks that the
	// agent process is still alive (in milliseconds)
	LivenessIntervalMs int `mapstructure:"liveness_interval_ms"`
	// RestartDelayMs is the pause before relaunching after an unexpected
	// exit (in milliseconds)
	RestartDelayMs int `mapstructure:"restart_delay_ms"`
	// CaptureBytes is the size of the output capture ring buffer in bytes.
	// The tail of this buffer is logged when the agent crashes.
	CaptureBytes int `mapstructure:"capture_bytes"`
}

// TurnConfig controls single-turn execution behavior
type TurnConfig struct {
	// TimeoutSeconds is the maximum time to wait for the prompt to
	// reappear after input is sent
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// PollIntervalMs is the read deadline used while draining agent
	// output between prompt checks (in milliseconds)
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	// QueueSize is the capacity of the pending turn queue
	QueueSize int `mapstructure:"queue_size"`
}

// TransportConfig selects and configures the chat surface
type TransportConfig struct {
	// Kind selects the transport: "console" or "slack" (default: "console")
	Kind string `mapstructure:"kind"`
	// Slack holds Slack transport settings, used when kind is "slack"
	Slack SlackConfig `mapstructure:"slack"`
}

// SlackConfig holds credentials and routing for the Slack transport
type SlackConfig struct {
	// BotToken is the xoxb- bot token
	BotToken string `mapstructure:"bot_token"`
	// AppToken is the xapp- app-level token for Socket Mode
	AppToken string `mapstructure:"app_token"`
	// ChannelID is the channel the bridge listens on
	ChannelID string `mapstructure:"channel_id"`
	// AllowedUserIDs are the Slack user IDs permitted to drive the agent.
	// Messages from anyone else are ignored.
	AllowedUserIDs []string `mapstructure:"allowed_user_ids"`
	// MaxMessageChars caps outbound message size before chunking
	MaxMessageChars int `mapstructure:"max_message_chars"`
	// Debug enables verbose slack-go client logging
	Debug bool `mapstructure:"debug"`
}

// WatchConfig controls workspace file tracking
type WatchConfig struct {
	// Enabled controls whether the agent workdir is watched for changes
	Enabled bool `mapstructure:"enabled"`
	// DebounceMs coalesces bursts of file events (in milliseconds)
	DebounceMs int `mapstructure:"debounce_ms"`
	// ExcludeDirs are directory names skipped while watching
	ExcludeDirs []string `mapstructure:"exclude_dirs"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the directory for the log file. If empty, logs go to stderr.
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress"`
}

// ResolveWorkdir returns the resolved agent working directory.
// If Workdir is empty, it returns baseDir. If Workdir starts with ~,
// it expands to the user's home directory. A relative path is resolved
// relative to baseDir.
func (a *AgentConfig) ResolveWorkdir(baseDir string) string {
	if a.Workdir == "" {
		return baseDir
	}

	path := a.Workdir

	// Expand ~ to home directory
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	// If relative path, resolve relative to baseDir
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Executable:    "claude",
			Args:          []string{},
			Workdir:       "", // Empty means inherit Parley's working directory
			Model:         "",
			PromptPattern: "\n> ",
			TermWidth:     200,
			TermHeight:    50,
		},
		Session: SessionConfig{
			ReadyTimeoutSeconds: 30,
			GracePeriodSeconds:  5,
			LivenessIntervalMs:  500,
			RestartDelayMs:      1000,
			CaptureBytes:        65536, // 64KB
		},
		Turn: TurnConfig{
			TimeoutSeconds: 300,
			PollIntervalMs: 150,
			QueueSize:      32,
		},
		Transport: TransportConfig{
			Kind: "console",
			Slack: SlackConfig{
				BotToken:        "",
				AppToken:        "",
				ChannelID:       "",
				AllowedUserIDs:  []string{},
				MaxMessageChars: 3800, // Slack truncates around 4000 characters
				Debug:           false,
			},
		},
		Watch: WatchConfig{
			Enabled:     true,
			DebounceMs:  300,
			ExcludeDirs: []string{".git", "node_modules", "vendor"},
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// ReadyTimeout returns the session ready timeout as a time.Duration
func (c *SessionConfig) ReadyTimeout() time.Duration {
	return time.Duration(c.ReadyTimeoutSeconds) * time.Second
}

// GracePeriod returns the graceful stop window as a time.Duration
func (c *SessionConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// LivenessInterval returns the liveness check interval as a time.Duration
func (c *SessionConfig) LivenessInterval() time.Duration {
	return time.Duration(c.LivenessIntervalMs) * time.Millisecond
}

// RestartDelay returns the restart delay as a time.Duration
func (c *SessionConfig) RestartDelay() time.Duration {
	return time.Duration(c.RestartDelayMs) * time.Millisecond
}

// Timeout returns the turn timeout as a time.Duration
func (c *TurnConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PollInterval returns the output poll interval as a time.Duration
func (c *TurnConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Debounce returns the watch debounce window as a time.Duration
func (c *WatchConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Agent defaults
	viper.SetDefault("agent.executable", defaults.Agent.Executable)
	viper.SetDefault("agent.args", defaults.Agent.Args)
	viper.SetDefault("agent.workdir", defaults.Agent.Workdir)
	viper.SetDefault("agent.model", defaults.Agent.Model)
	viper.SetDefault("agent.prompt_pattern", defaults.Agent.PromptPattern)
	viper.SetDefault("agent.term_width", defaults.Agent.TermWidth)
	viper.SetDefault("agent.term_height", defaults.Agent.TermHeight)

	// Session defaults
	viper.SetDefault("session.ready_timeout_seconds", defaults.Session.ReadyTimeoutSeconds)
	viper.SetDefault("session.grace_period_seconds", defaults.Session.GracePeriodSeconds)
	viper.SetDefault("session.liveness_interval_ms", defaults.Session.LivenessIntervalMs)
	viper.SetDefault("session.restart_delay_ms", defaults.Session.RestartDelayMs)
	viper.SetDefault("session.capture_bytes", defaults.Session.CaptureBytes)

	// Turn defaults
	viper.SetDefault("turn.timeout_seconds", defaults.Turn.TimeoutSeconds)
	viper.SetDefault("turn.poll_interval_ms", defaults.Turn.PollIntervalMs)
	viper.SetDefault("turn.queue_size", defaults.Turn.QueueSize)

	// Transport defaults
	viper.SetDefault("transport.kind", defaults.Transport.Kind)
	viper.SetDefault("transport.slack.bot_token", defaults.Transport.Slack.BotToken)
	viper.SetDefault("transport.slack.app_token", defaults.Transport.Slack.AppToken)
	viper.SetDefault("transport.slack.channel_id", defaults.Transport.Slack.ChannelID)
	viper.SetDefault("transport.slack.allowed_user_ids", defaults.Transport.Slack.AllowedUserIDs)
	viper.SetDefault("transport.slack.max_message_chars", defaults.Transport.Slack.MaxMessageChars)
	viper.SetDefault("transport.slack.debug", defaults.Transport.Slack.Debug)

	// Watch defaults
	viper.SetDefault("watch.enabled", defaults.Watch.Enabled)
	viper.SetDefault("watch.debounce_ms", defaults.Watch.DebounceMs)
	viper.SetDefault("watch.exclude_dirs", defaults.Watch.ExcludeDirs)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "parley")
	}
	// Fall back to ~/.config/parley
	home, err := os.UserHomeDir()
	if err != nil {
		return ".parley"
	}
	return filepath.Join(home, ".config", "parley")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidTransportKinds returns the list of valid transport kinds
func ValidTransportKinds() []string {
	return []string{"console", "slack"}
}

// IsValidTransportKind checks if the given transport kind is valid
func IsValidTransportKind(kind string) bool {
	for _, valid := range ValidTransportKinds() {
		if kind == valid {
			return true
		}
	}
	return false
}
