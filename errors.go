package tdkit

import (
	"errors"
	"io"
	"log/slog"
)

// ErrNoDirectory is returned by Toolkit.Directory when no directory store was
// configured.
var ErrNoDirectory = errors.New("tdkit: no directory configured")

// CloseWithLog closes closer and logs a failure at warning level. It is meant
// for defer statements where the error would otherwise be dropped.
//
// If logger is nil, slog.Default() is used.
//
// Example usage:
//
//	defer tdkit.CloseWithLog(kit, logger, "toolkit")
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}

// closerFunc adapts a function to io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
