package log

import "github.com/mazrean/blobdir/internal/pkg/log"

// Logger defines the interface for logging operations used by the directory, its stores and locks.
// It provides methods for different log levels: debug, info, warn and error
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

var DefaultLogger Logger = log.NewLogger(log.Info) // DefaultLogger is the default logger instance
