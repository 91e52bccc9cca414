package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "turn.timeout_seconds")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Agent config
	errors = append(errors, c.validateAgent()...)

	// Validate Session config
	errors = append(errors, c.validateSession()...)

	// Validate Turn config
	errors = append(errors, c.validateTurn()...)

	// Validate Transport config
	errors = append(errors, c.validateTransport()...)

	// Validate Watch config
	errors = append(errors, c.validateWatch()...)

	// Validate Logging config
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateAgent validates the AgentConfig
func (c *Config) validateAgent() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Agent.Executable) == "" {
		errors = append(errors, ValidationError{
			Field:   "agent.executable",
			Value:   c.Agent.Executable,
			Message: "cannot be empty",
		})
	}

	if c.Agent.PromptPattern == "" {
		errors = append(errors, ValidationError{
			Field:   "agent.prompt_pattern",
			Value:   c.Agent.PromptPattern,
			Message: "cannot be empty",
		})
	} else if _, err := regexp.Compile(c.Agent.PromptPattern); err != nil {
		errors = append(errors, ValidationError{
			Field:   "agent.prompt_pattern",
			Value:   c.Agent.PromptPattern,
			Message: fmt.Sprintf("must be a valid regular expression: %v", err),
		})
	}

	// Terminal dimensions validation
	const minTermWidth = 80
	const maxTermWidth = 500
	const minTermHeight = 24
	const maxTermHeight = 200

	if c.Agent.TermWidth < minTermWidth {
		errors = append(errors, ValidationError{
			Field:   "agent.term_width",
			Value:   c.Agent.TermWidth,
			Message: fmt.Sprintf("must be at least %d columns", minTermWidth),
		})
	}
	if c.Agent.TermWidth > maxTermWidth {
		errors = append(errors, ValidationError{
			Field:   "agent.term_width",
			Value:   c.Agent.TermWidth,
			Message: fmt.Sprintf("exceeds maximum of %d columns", maxTermWidth),
		})
	}
	if c.Agent.TermHeight < minTermHeight {
		errors = append(errors, ValidationError{
			Field:   "agent.term_height",
			Value:   c.Agent.TermHeight,
			Message: fmt.Sprintf("must be at least %d rows", minTermHeight),
		})
	}
	if c.Agent.TermHeight > maxTermHeight {
		errors = append(errors, ValidationError{
			Field:   "agent.term_height",
			Value:   c.Agent.TermHeight,
			Message: fmt.Sprintf("exceeds maximum of %d rows", maxTermHeight),
		})
	}

	// Workdir validation - if set, check for invalid characters
	if c.Agent.Workdir != "" {
		path := c.Agent.Workdir

		// Check for null bytes which are invalid in paths
		if strings.ContainsRune(path, '\x00') {
			errors = append(errors, ValidationError{
				Field:   "agent.workdir",
				Value:   path,
				Message: "path contains invalid null character",
			})
		}

		// Reasonable path length limit (most filesystems have limits around 4096)
		const maxPathLength = 4096
		if len(path) > maxPathLength {
			errors = append(errors, ValidationError{
				Field:   "agent.workdir",
				Value:   path,
				Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
			})
		}
	}

	return errors
}

// validateSession validates the SessionConfig
func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError

	if c.Session.ReadyTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "session.ready_timeout_seconds",
			Value:   c.Session.ReadyTimeoutSeconds,
			Message: "must be positive",
		})
	}

	if c.Session.GracePeriodSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.grace_period_seconds",
			Value:   c.Session.GracePeriodSeconds,
			Message: "must be non-negative (0 kills immediately)",
		})
	}

	// Liveness interval validation
	const minLivenessInterval = 50    // 50ms minimum
	const maxLivenessInterval = 60000 // 1 minute maximum

	if c.Session.LivenessIntervalMs < minLivenessInterval {
		errors = append(errors, ValidationError{
			Field:   "session.liveness_interval_ms",
			Value:   c.Session.LivenessIntervalMs,
			Message: fmt.Sprintf("must be at least %dms", minLivenessInterval),
		})
	}
	if c.Session.LivenessIntervalMs > maxLivenessInterval {
		errors = append(errors, ValidationError{
			Field:   "session.liveness_interval_ms",
			Value:   c.Session.LivenessIntervalMs,
			Message: fmt.Sprintf("exceeds maximum of %dms", maxLivenessInterval),
		})
	}

	if c.Session.RestartDelayMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.restart_delay_ms",
			Value:   c.Session.RestartDelayMs,
			Message: "must be non-negative",
		})
	}

	// Capture buffer validation
	const minCaptureBytes = 1024        // 1KB minimum
	const maxCaptureBytes = 100_000_000 // 100MB maximum

	if c.Session.CaptureBytes < minCaptureBytes {
		errors = append(errors, ValidationError{
			Field:   "session.capture_bytes",
			Value:   c.Session.CaptureBytes,
			Message: fmt.Sprintf("must be at least %d bytes (1KB)", minCaptureBytes),
		})
	}
	if c.Session.CaptureBytes > maxCaptureBytes {
		errors = append(errors, ValidationError{
			Field:   "session.capture_bytes",
			Value:   c.Session.CaptureBytes,
			Message: fmt.Sprintf("exceeds maximum of %d bytes (100MB)", maxCaptureBytes),
		})
	}

	return errors
}

// validateTurn validates the TurnConfig
func (c *Config) validateTurn() []ValidationError {
	var errors []ValidationError

	if c.Turn.TimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "turn.timeout_seconds",
			Value:   c.Turn.TimeoutSeconds,
			Message: "must be positive",
		})
	}

	// Poll interval validation
	const minPollInterval = 10   // 10ms minimum
	const maxPollInterval = 5000 // 5 seconds maximum

	if c.Turn.PollIntervalMs < minPollInterval {
		errors = append(errors, ValidationError{
			Field:   "turn.poll_interval_ms",
			Value:   c.Turn.PollIntervalMs,
			Message: fmt.Sprintf("must be at least %dms", minPollInterval),
		})
	}
	if c.Turn.PollIntervalMs > maxPollInterval {
		errors = append(errors, ValidationError{
			Field:   "turn.poll_interval_ms",
			Value:   c.Turn.PollIntervalMs,
			Message: fmt.Sprintf("exceeds maximum of %dms", maxPollInterval),
		})
	}

	if c.Turn.QueueSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "turn.queue_size",
			Value:   c.Turn.QueueSize,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateTransport validates the TransportConfig
func (c *Config) validateTransport() []ValidationError {
	var errors []ValidationError

	if c.Transport.Kind != "" && !IsValidTransportKind(c.Transport.Kind) {
		errors = append(errors, ValidationError{
			Field:   "transport.kind",
			Value:   c.Transport.Kind,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidTransportKinds(), ", ")),
		})
	}

	// Slack settings only matter when the Slack transport is selected
	if c.Transport.Kind == "slack" {
		if c.Transport.Slack.BotToken == "" {
			errors = append(errors, ValidationError{
				Field:   "transport.slack.bot_token",
				Value:   "",
				Message: "required when transport.kind is 'slack'",
			})
		}
		if c.Transport.Slack.AppToken == "" {
			errors = append(errors, ValidationError{
				Field:   "transport.slack.app_token",
				Value:   "",
				Message: "required when transport.kind is 'slack'",
			})
		}
		if c.Transport.Slack.ChannelID == "" {
			errors = append(errors, ValidationError{
				Field:   "transport.slack.channel_id",
				Value:   "",
				Message: "required when transport.kind is 'slack'",
			})
		}
		if len(c.Transport.Slack.AllowedUserIDs) == 0 {
			errors = append(errors, ValidationError{
				Field:   "transport.slack.allowed_user_ids",
				Value:   c.Transport.Slack.AllowedUserIDs,
				Message: "at least one user ID is required when transport.kind is 'slack'",
			})
		}
	}

	// Message size limits
	const minMessageChars = 256
	const maxMessageChars = 40000

	if c.Transport.Slack.MaxMessageChars < minMessageChars {
		errors = append(errors, ValidationError{
			Field:   "transport.slack.max_message_chars",
			Value:   c.Transport.Slack.MaxMessageChars,
			Message: fmt.Sprintf("must be at least %d", minMessageChars),
		})
	}
	if c.Transport.Slack.MaxMessageChars > maxMessageChars {
		errors = append(errors, ValidationError{
			Field:   "transport.slack.max_message_chars",
			Value:   c.Transport.Slack.MaxMessageChars,
			Message: fmt.Sprintf("exceeds maximum of %d", maxMessageChars),
		})
	}

	return errors
}

// validateWatch validates the WatchConfig
func (c *Config) validateWatch() []ValidationError {
	var errors []ValidationError

	if c.Watch.DebounceMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "watch.debounce_ms",
			Value:   c.Watch.DebounceMs,
			Message: "must be non-negative",
		})
	}

	// Excluded directory names must be bare names, not paths
	for i, dir := range c.Watch.ExcludeDirs {
		fieldName := fmt.Sprintf("watch.exclude_dirs[%d]", i)

		if strings.TrimSpace(dir) == "" {
			errors = append(errors, ValidationError{
				Field:   fieldName,
				Value:   dir,
				Message: "directory name cannot be empty",
			})
			continue
		}
		if strings.ContainsRune(dir, '/') {
			errors = append(errors, ValidationError{
				Field:   fieldName,
				Value:   dir,
				Message: "must be a directory name, not a path",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
