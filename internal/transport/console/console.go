// Package console adapts a local terminal to the bridge. Lines typed on
// stdin are parsed and dispatched as authorized inbound input; turn
// responses and lifecycle notifications print to stdout, styled when the
// output is an interactive terminal.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/quillback/parley/internal/bridge"
	"github.com/quillback/parley/internal/logging"
)

// callerName identifies console input to the bridge. The terminal has a
// single operator, so every line carries the same caller.
const callerName = "console"

// maxLineBytes bounds a single input line. Pasted prompts can be large.
const maxLineBytes = 1 << 20

var (
	promptColor = lipgloss.Color("#A78BFA") // purple
	noticeColor = lipgloss.Color("#F59E0B") // amber
	mutedColor  = lipgloss.Color("#9CA3AF") // gray

	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(promptColor)
	noticeStyle = lipgloss.NewStyle().Italic(true).Foreground(noticeColor)
	hintStyle   = lipgloss.NewStyle().Foreground(mutedColor)
)

// Handler receives parsed inbound input. *bridge.Bridge satisfies it.
type Handler interface {
	Dispatch(in bridge.Inbound)
}

// Console is a stdin/stdout transport. It implements bridge.Sink for the
// outbound direction; Run drives the inbound direction.
type Console struct {
	logger *logging.Logger
	in     io.Reader
	styled bool

	mu  sync.Mutex
	out io.Writer
}

// Option configures a Console.
type Option func(*Console)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Console) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStreams replaces stdin and stdout, for tests and embedding.
func WithStreams(in io.Reader, out io.Writer) Option {
	return func(c *Console) {
		if in != nil {
			c.in = in
		}
		if out != nil {
			c.out = out
		}
	}
}

// WithStyle forces styled or plain output, overriding terminal detection.
func WithStyle(enabled bool) Option {
	return func(c *Console) {
		c.styled = enabled
	}
}

// New returns a Console bound to os.Stdin and os.Stdout unless overridden.
func New(opts ...Option) *Console {
	c := &Console{
		logger: logging.NopLogger(),
		in:     os.Stdin,
		out:    os.Stdout,
		styled: shouldStyle(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithTransport("console")
	return c
}

// Run reads lines until the input is closed or ctx is canceled, handing each
// non-blank line to h. Returns nil on EOF or cancellation, the scanner error
// otherwise.
//
// The read pump may stay blocked in Read on a real stdin after cancellation;
// Run does not wait for it.
func (c *Console) Run(ctx context.Context, h Handler) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	if c.styled {
		c.writeLine(hintStyle.Render("connected; /status shows the session, /kill stops it"))
	}
	c.printPrompt()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("console transport stopping", "reason", "context canceled")
			return nil
		case line, ok := <-lines:
			if !ok {
				err := <-scanErr
				if err != nil {
					c.logger.Error("console read failed", "error", err)
					return fmt.Errorf("read console input: %w", err)
				}
				c.logger.Info("console transport stopping", "reason", "input closed")
				return nil
			}
			if strings.TrimSpace(line) == "" {
				c.printPrompt()
				continue
			}
			h.Dispatch(bridge.ParseLine(callerName, line))
			c.printPrompt()
		}
	}
}

// MaxMessageChars reports no payload limit; a terminal takes any length.
func (c *Console) MaxMessageChars() int { return 0 }

// SendText prints one chunk of response text.
func (c *Console) SendText(_ context.Context, text string) error {
	return c.writeLine(text)
}

// Notify prints a status line, visually set off from response text.
func (c *Console) Notify(_ context.Context, text string) error {
	if c.styled {
		return c.writeLine(noticeStyle.Render(text))
	}
	return c.writeLine("* " + text)
}

func (c *Console) writeLine(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintln(c.out, text); err != nil {
		return fmt.Errorf("write to console: %w", err)
	}
	return nil
}

func (c *Console) printPrompt() {
	if !c.styled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, promptStyle.Render(">")+" ")
}

// shouldStyle respects the NO_COLOR (https://no-color.org/), CLICOLOR, and
// CLICOLOR_FORCE conventions, falling back to terminal detection.
func shouldStyle() bool {
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return false
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if _, exists := os.LookupEnv("CLICOLOR_FORCE"); exists {
		return true
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
