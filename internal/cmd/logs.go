package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quillback/parley/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View bridge logs",
	Long: `View and filter logs from the bridge's log file.

Requires file logging (logging.dir set); when logs go to stderr there is
no file to read.

Examples:
  # Show the last 50 entries
  parley logs

  # Show everything
  parley logs -n 0

  # Follow logs in real-time
  parley logs -f

  # Filter by log level
  parley logs --level warn

  # Show logs from the last hour
  parley logs --since 1h

  # Only the serializer's view of things
  parley logs --component serializer

  # Search for specific patterns
  parley logs --grep "error|failed"

  # Export filtered entries for a bug report
  parley logs --level warn --export report.json`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsTail      int
	logsFollow    bool
	logsLevel     string
	logsSince     string
	logsGrep      string
	logsTurn      string
	logsTransport string
	logsComponent string
	logsExport    string
	logsFormat    string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter logs matching pattern (regex)")
	logsCmd.Flags().StringVar(&logsTurn, "turn", "", "Filter by turn ID")
	logsCmd.Flags().StringVar(&logsTransport, "transport", "", "Filter by transport (console/slack)")
	logsCmd.Flags().StringVar(&logsComponent, "component", "", "Filter by component (bridge/supervisor/serializer/watch)")
	logsCmd.Flags().StringVar(&logsExport, "export", "", "Write matching entries to a file instead of the terminal")
	logsCmd.Flags().StringVar(&logsFormat, "format", "json", "Export format (json/text/csv)")
}

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
)

// levelColor returns the ANSI color code for a log level
func levelColor(level string) string {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return colorGray
	case logging.LevelInfo:
		return colorBlue
	case logging.LevelWarn:
		return colorYellow
	case logging.LevelError:
		return colorRed
	default:
		return colorReset
	}
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(entry logging.LogEntry) string {
	var sb strings.Builder

	// Timestamp
	sb.WriteString(colorGray)
	sb.WriteString("[")
	sb.WriteString(entry.Timestamp.Format("15:04:05.000"))
	sb.WriteString("]")
	sb.WriteString(colorReset)

	// Level with color
	sb.WriteString(" ")
	sb.WriteString(levelColor(entry.Level))
	sb.WriteString("[")
	sb.WriteString(strings.ToUpper(entry.Level))
	sb.WriteString("]")
	sb.WriteString(colorReset)

	// Message
	sb.WriteString(" ")
	sb.WriteString(entry.Message)

	// Context fields (component, transport, turn_id)
	for _, kv := range [][2]string{
		{"component", entry.Component},
		{"transport", entry.Transport},
		{"turn_id", entry.TurnID},
	} {
		if kv[1] == "" {
			continue
		}
		sb.WriteString(" ")
		sb.WriteString(colorCyan)
		sb.WriteString(kv[0])
		sb.WriteString("=")
		sb.WriteString(kv[1])
		sb.WriteString(colorReset)
	}

	// Extra fields
	for key, value := range entry.Attrs {
		sb.WriteString(" ")
		sb.WriteString(colorCyan)
		sb.WriteString(key)
		sb.WriteString("=")
		sb.WriteString(colorReset)
		sb.WriteString(fmt.Sprintf("%v", value))
	}

	return sb.String()
}

// buildLogFilter translates the command flags into a LogFilter.
func buildLogFilter() (logging.LogFilter, error) {
	filter := logging.LogFilter{
		TurnID:    logsTurn,
		Transport: logsTransport,
		Component: logsComponent,
	}

	if logsLevel != "" {
		if !validLogLevel(logsLevel) {
			return filter, fmt.Errorf("invalid log level %q (valid: %s)",
				logsLevel, strings.Join(logging.ValidLevels(), ", "))
		}
		filter.Level = logging.ParseLevel(logsLevel)
	}

	if logsSince != "" {
		duration, err := time.ParseDuration(logsSince)
		if err != nil {
			return filter, fmt.Errorf("invalid duration format: %w", err)
		}
		filter.StartTime = time.Now().Add(-duration)
	}

	return filter, nil
}

// matchesGrep checks the message and attr values against the grep pattern.
func matchesGrep(entry logging.LogEntry, grepRegex *regexp.Regexp) bool {
	if grepRegex == nil {
		return true
	}
	searchText := entry.Message
	for _, v := range entry.Attrs {
		searchText += " " + fmt.Sprintf("%v", v)
	}
	return grepRegex.MatchString(searchText)
}

func runLogs(cmd *cobra.Command, args []string) error {
	logDir := viper.GetString("logging.dir")
	if logDir == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "File logging is disabled (logging.dir is empty); logs go to stderr.")
		return nil
	}

	logPath := filepath.Join(logDir, "parley.log")
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Fprintf(cmd.OutOrStdout(), "No log file found at %s\n", logPath)
		return nil
	}

	filter, err := buildLogFilter()
	if err != nil {
		return err
	}

	var grepRegex *regexp.Regexp
	if logsGrep != "" {
		grepRegex, err = regexp.Compile(logsGrep)
		if err != nil {
			return fmt.Errorf("invalid grep pattern: %w", err)
		}
	}

	if logsFollow {
		if logsExport != "" {
			return fmt.Errorf("cannot combine --follow with --export")
		}
		return followLogs(cmd.OutOrStdout(), logPath, filter, grepRegex)
	}

	entries, err := logging.AggregateLogs(logDir)
	if err != nil {
		return err
	}
	entries = logging.FilterLogs(entries, filter)
	if grepRegex != nil {
		var matched []logging.LogEntry
		for _, entry := range entries {
			if matchesGrep(entry, grepRegex) {
				matched = append(matched, entry)
			}
		}
		entries = matched
	}

	if logsExport != "" {
		if err := logging.ExportLogEntries(entries, logsExport, logsFormat); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", len(entries), logsExport)
		return nil
	}

	// Apply tail limit
	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}

	for _, entry := range entries {
		fmt.Fprintln(cmd.OutOrStdout(), formatLogEntry(entry))
	}

	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No matching log entries found.")
	}

	return nil
}

// followLogs implements tail -f behavior for the log file
func followLogs(out io.Writer, logPath string, filter logging.LogFilter, grepRegex *regexp.Regexp) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// Seek to end of file
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	fmt.Fprintf(out, "Following logs... (Ctrl+C to stop)\n\n")

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// No new data, wait briefly and try again
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("error reading log file: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		entry, err := logging.ParseLogLine(line)
		if err != nil {
			// Not JSON, display the raw line
			fmt.Fprintln(out, line)
			continue
		}

		if !filter.Matches(entry) || !matchesGrep(entry, grepRegex) {
			continue
		}

		fmt.Fprintln(out, formatLogEntry(entry))
	}
}
