// Package utils contains some common utilities used by all other packages.
package utils

import (
	"strings"
)

// StripPort removes a trailing :port from a hostname as reported by
// information_schema.processlist (e.g. "10.0.0.4:51234").
func StripPort(hostname string) string {
	if i := strings.LastIndex(hostname, ":"); i > 0 {
		return hostname[:i]
	}
	return hostname
}

// Truncate shortens s to at most n runes and strips newlines, so that
// statement text can be shown on a single table row.
func Truncate(s string, n int) string {
	s = strings.NewReplacer("\r", "", "\n", "").Replace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// IsTruthy interprets a MySQL boolean variable value. Servers report
// these as ON/OFF through SHOW VARIABLES and as 1/0 through @@GLOBAL.
func IsTruthy(value string) bool {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "1", "ON", "TRUE", "YES":
		return true
	}
	return false
}
