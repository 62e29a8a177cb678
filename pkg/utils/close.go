package utils

import (
	"log/slog"
)

// Closer is an interface for types that have a Close() method.
// *sql.DB, *sql.Rows and *os.File all satisfy it.
type Closer interface {
	Close() error
}

// CloseAndLog closes a resource and logs any error. This is useful for defer statements
// where the error cannot be meaningfully handled except by logging.
// Example: defer utils.CloseAndLog(db)
func CloseAndLog(closer Closer) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		slog.Error("deferred close failed", "error", err)
	}
}

// ErrInErr is used when an error occurs while already handling an error,
// for example closing a connection after a failed ping.
func ErrInErr(err error) {
	if err != nil {
		slog.Error("error while handling an earlier error", "error", err)
	}
}
