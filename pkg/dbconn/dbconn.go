// Package dbconn contains the MySQL connection handling and the
// administrative queries the toolkit runs against a server.
package dbconn

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidVariableName = errors.New("invalid variable name")

	// variableName matches system and status variable names. They are
	// interpolated into statements that cannot take placeholders.
	variableName = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

type DBConfig struct {
	LockWaitTimeout    int
	MaxOpenConnections int
	// TLS Configuration
	TLSMode            string // TLS connection mode (DISABLED, PREFERRED, REQUIRED, VERIFY_CA, VERIFY_IDENTITY)
	TLSCertificatePath string // Path to custom TLS certificate file
}

func NewDBConfig() *DBConfig {
	return &DBConfig{
		LockWaitTimeout:    30,
		MaxOpenConnections: 1, // administrative tasks are strictly sequential
		TLSMode:            "PREFERRED",
		TLSCertificatePath: "",
	}
}

func validateVariableName(name string) error {
	if !variableName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidVariableName, name)
	}
	return nil
}
