package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quillback/parley/internal/config"
	"github.com/quillback/parley/internal/logging"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify Parley configuration",
	Long: `View or modify Parley configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  parley config set agent.model claude-sonnet-4
  parley config set transport.kind slack
  parley config set turn.timeout_seconds 600

Run 'parley config show' to see the current values of all keys.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/parley/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintln(out)

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "agent:")
	fmt.Fprintf(out, "  executable: %s\n", cfg.Agent.Executable)
	fmt.Fprintf(out, "  args: %v\n", cfg.Agent.Args)
	fmt.Fprintf(out, "  workdir: %s\n", orPlaceholder(cfg.Agent.Workdir, "(inherited)"))
	fmt.Fprintf(out, "  model: %s\n", orPlaceholder(cfg.Agent.Model, "(default)"))
	fmt.Fprintf(out, "  prompt_pattern: %q\n", cfg.Agent.PromptPattern)
	fmt.Fprintf(out, "  term_width: %d\n", cfg.Agent.TermWidth)
	fmt.Fprintf(out, "  term_height: %d\n", cfg.Agent.TermHeight)

	fmt.Fprintln(out, "session:")
	fmt.Fprintf(out, "  ready_timeout_seconds: %d\n", cfg.Session.ReadyTimeoutSeconds)
	fmt.Fprintf(out, "  grace_period_seconds: %d\n", cfg.Session.GracePeriodSeconds)
	fmt.Fprintf(out, "  liveness_interval_ms: %d\n", cfg.Session.LivenessIntervalMs)
	fmt.Fprintf(out, "  restart_delay_ms: %d\n", cfg.Session.RestartDelayMs)
	fmt.Fprintf(out, "  capture_bytes: %d\n", cfg.Session.CaptureBytes)

	fmt.Fprintln(out, "turn:")
	fmt.Fprintf(out, "  timeout_seconds: %d\n", cfg.Turn.TimeoutSeconds)
	fmt.Fprintf(out, "  poll_interval_ms: %d\n", cfg.Turn.PollIntervalMs)
	fmt.Fprintf(out, "  queue_size: %d\n", cfg.Turn.QueueSize)

	fmt.Fprintln(out, "transport:")
	fmt.Fprintf(out, "  kind: %s\n", cfg.Transport.Kind)
	fmt.Fprintln(out, "  slack:")
	fmt.Fprintf(out, "    bot_token: %s\n", maskSecret(cfg.Transport.Slack.BotToken))
	fmt.Fprintf(out, "    app_token: %s\n", maskSecret(cfg.Transport.Slack.AppToken))
	fmt.Fprintf(out, "    channel_id: %s\n", orPlaceholder(cfg.Transport.Slack.ChannelID, "(unset)"))
	fmt.Fprintf(out, "    allowed_user_ids: %v\n", cfg.Transport.Slack.AllowedUserIDs)
	fmt.Fprintf(out, "    max_message_chars: %d\n", cfg.Transport.Slack.MaxMessageChars)
	fmt.Fprintf(out, "    debug: %v\n", cfg.Transport.Slack.Debug)

	fmt.Fprintln(out, "watch:")
	fmt.Fprintf(out, "  enabled: %v\n", cfg.Watch.Enabled)
	fmt.Fprintf(out, "  debounce_ms: %d\n", cfg.Watch.DebounceMs)
	fmt.Fprintf(out, "  exclude_dirs: %v\n", cfg.Watch.ExcludeDirs)

	fmt.Fprintln(out, "logging:")
	fmt.Fprintf(out, "  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Fprintf(out, "  level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  dir: %s\n", orPlaceholder(cfg.Logging.Dir, "(stderr)"))
	fmt.Fprintf(out, "  max_size_mb: %d\n", cfg.Logging.MaxSizeMB)
	fmt.Fprintf(out, "  max_backups: %d\n", cfg.Logging.MaxBackups)
	fmt.Fprintf(out, "  compress: %v\n", cfg.Logging.Compress)

	return nil
}

func orPlaceholder(value, placeholder string) string {
	if value == "" {
		return placeholder
	}
	return value
}

// maskSecret keeps tokens out of terminal scrollback.
func maskSecret(value string) string {
	if value == "" {
		return "(unset)"
	}
	return "(set)"
}

// settableKeys maps config keys to their value type for validation.
var settableKeys = map[string]string{
	"agent.executable":                  "string",
	"agent.workdir":                     "string",
	"agent.model":                       "string",
	"agent.prompt_pattern":              "string",
	"agent.term_width":                  "int",
	"agent.term_height":                 "int",
	"session.ready_timeout_seconds":     "int",
	"session.grace_period_seconds":      "int",
	"session.liveness_interval_ms":      "int",
	"session.restart_delay_ms":          "int",
	"session.capture_bytes":             "int",
	"turn.timeout_seconds":              "int",
	"turn.poll_interval_ms":             "int",
	"turn.queue_size":                   "int",
	"transport.kind":                    "string",
	"transport.slack.bot_token":         "string",
	"transport.slack.app_token":         "string",
	"transport.slack.channel_id":        "string",
	"transport.slack.max_message_chars": "int",
	"transport.slack.debug":             "bool",
	"watch.enabled":                     "bool",
	"watch.debounce_ms":                 "int",
	"logging.enabled":                   "bool",
	"logging.level":                     "string",
	"logging.dir":                       "string",
	"logging.max_size_mb":               "int",
	"logging.max_backups":               "int",
	"logging.compress":                  "bool",
}

// parseConfigValue validates key against the settable set and converts
// value to the key's type.
func parseConfigValue(key, value string) (any, error) {
	keyType, ok := settableKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'parley config show' to see valid keys", key)
	}

	switch keyType {
	case "string":
		switch key {
		case "transport.kind":
			if !config.IsValidTransportKind(value) {
				return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
					key, value, strings.Join(config.ValidTransportKinds(), ", "))
			}
		case "logging.level":
			if !validLogLevel(value) {
				return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
					key, value, strings.Join(logging.ValidLevels(), ", "))
			}
		}
		return value, nil

	case "bool":
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return value == "true", nil

	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return intVal, nil
	}

	return nil, fmt.Errorf("unknown configuration key: %s", key)
}

func validLogLevel(level string) bool {
	for _, valid := range logging.ValidLevels() {
		if strings.EqualFold(level, valid) {
			return true
		}
	}
	return false
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	typedValue, err := parseConfigValue(key, args[1])
	if err != nil {
		return err
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	viper.Set(key, typedValue)

	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)

	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'parley config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configContent := `# Parley Configuration

# The interactive CLI agent Parley keeps alive
agent:
  # Agent binary to launch
  executable: claude
  # Extra arguments passed on every launch
  args: []
  # Working directory for the agent; empty inherits Parley's directory
  workdir: ""
  # Model name passed via --model; empty uses the agent's default
  model: ""
  # Pattern marking the agent's idle prompt at the end of output
  prompt_pattern: "\n> "
  # Pseudo-terminal dimensions
  term_width: 200
  term_height: 50

# Session lifecycle
session:
  # How long to wait for the first prompt after launch
  ready_timeout_seconds: 30
  # Pause between interrupt and kill when stopping
  grace_period_seconds: 5
  # How often to check the agent process is alive
  liveness_interval_ms: 500
  # Pause before relaunching after an unexpected exit
  restart_delay_ms: 1000
  # Output capture ring buffer size (crash log tail)
  capture_bytes: 65536

# Turn execution
turn:
  # Maximum wait for the prompt to reappear after sending input
  timeout_seconds: 300
  # Read deadline while draining output between prompt checks
  poll_interval_ms: 150
  # Pending turn queue capacity
  queue_size: 32

# Chat surface
transport:
  # Transport kind: console or slack
  kind: console
  slack:
    # Prefer PARLEY_TRANSPORT_SLACK_BOT_TOKEN and _APP_TOKEN env vars
    # over storing tokens here.
    bot_token: ""
    app_token: ""
    channel_id: ""
    allowed_user_ids: []
    max_message_chars: 3800
    debug: false

# Workspace change tracking
watch:
  enabled: true
  debounce_ms: 300
  exclude_dirs: [.git, node_modules, vendor]

# Logging
logging:
  enabled: true
  level: info
  # Log directory; empty writes to stderr
  dir: ""
  max_size_mb: 10
  max_backups: 3
  compress: false
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Edit this file to customize Parley's behavior.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. $HOME/.config/parley/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: PARLEY_* (e.g., PARLEY_TRANSPORT_KIND)")

	return nil
}
