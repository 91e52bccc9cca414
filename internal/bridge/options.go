package bridge

import (
	"github.com/quillback/parley/internal/logging"
)

// defaultFilesLimit bounds the files command listing.
const defaultFilesLimit = 20

// Option configures a Bridge.
type Option func(*config)

type config struct {
	logger     *logging.Logger
	workspace  Workspace
	filesLimit int
}

// WithLogger sets the logger for the bridge.
func WithLogger(logger *logging.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithWorkspace attaches a workspace change tracker. Without one the files
// command reports tracking as disabled and status omits the change count.
func WithWorkspace(w Workspace) Option {
	return func(c *config) {
		c.workspace = w
	}
}

// WithFilesLimit caps the files command listing. A zero or negative value
// is replaced with the default (20).
func WithFilesLimit(n int) Option {
	return func(c *config) {
		c.filesLimit = n
	}
}
