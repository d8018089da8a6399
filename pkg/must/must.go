// Package must provides helpers for best-effort cleanup operations whose
// errors can't be usefully propagated (e.g. removing a temporary file after
// a write has already failed) but shouldn't be silently swallowed either.
// Each helper logs a warning on failure and otherwise does nothing.
package must

import (
	"io"
	"os"

	"github.com/jamenai/opensim-assetcache/pkg/logging"
)

// Close closes a closer, logging a warning on failure.
func Close(c io.Closer, logger *logging.Logger) {
	if err := c.Close(); err != nil {
		logger.Warnf("unable to close: %s", err.Error())
	}
}

// OSRemove removes a file by name, logging a warning on failure. It does not
// warn if the file is already absent.
func OSRemove(name string, logger *logging.Logger) {
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		logger.Warnf("unable to remove '%s': %s", name, err.Error())
	}
}

// Succeed logs a warning if err is non-nil, identifying the task that failed.
func Succeed(err error, task string, logger *logging.Logger) {
	if err != nil {
		logger.Warnf("unable to %s: %s", task, err.Error())
	}
}
