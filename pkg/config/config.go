// Package config resolves how to connect to MySQL from command line
// options, a defaults file and ~/.my.cnf.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/block/crptoolkit/pkg/dbconn"
	"github.com/go-sql-driver/mysql"
	"golang.org/x/term"
)

const (
	defaultHost    = "127.0.0.1"
	defaultPort    = 3306
	defaultTLSMode = "PREFERRED"
)

// Options are the connection flags shared by every command.
type Options struct {
	User               string `name:"user" short:"u" help:"MySQL user" optional:""`
	Password           string `name:"password" short:"p" help:"MySQL password" optional:""`
	AskPass            bool   `name:"ask-pass" help:"Ask for password" optional:""`
	Host               string `name:"host" short:"H" help:"MySQL host (default: 127.0.0.1)" optional:""`
	Port               int    `name:"port" short:"P" help:"MySQL port (default: 3306)" optional:""`
	Socket             string `name:"socket" short:"S" help:"MySQL socket" optional:""`
	DefaultsFile       string `name:"defaults-file" help:"Use MySQL configuration file" optional:""`
	TLSMode            string `name:"tls-mode" help:"TLS connection mode (case insensitive): DISABLED, PREFERRED (default), REQUIRED, VERIFY_CA, VERIFY_IDENTITY" optional:""`
	TLSCertificatePath string `name:"tls-ca" help:"Path to custom TLS CA certificate file" optional:""`
	Verbose            bool   `name:"verbose" short:"v" help:"Print additional tool information" optional:""`
}

// Resolved is the outcome of applying the precedence rules.
type Resolved struct {
	Host               string
	Port               int
	User               string
	Password           string
	Socket             string
	TLSMode            string
	TLSCertificatePath string
}

var ErrPasswordPrompt = errors.New("could not read password from terminal")

// readPassword is swapped out by tests.
var readPassword = func() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPasswordPrompt, err)
	}
	return string(pw), nil
}

// Resolve applies the connection precedence:
//
//  1. --defaults-file, when given, is the only source of credentials.
//  2. Otherwise command line options.
//  3. Then the [client] section of ~/.my.cnf (home is where to look for it;
//     empty means the current user's home directory).
//  4. Then built-in defaults.
//
// --ask-pass always wins for the password when no defaults file is used.
func (o *Options) Resolve(home string) (*Resolved, error) {
	if o.DefaultsFile != "" {
		params, err := loadClientParams(o.DefaultsFile)
		if err != nil {
			return nil, err
		}
		return &Resolved{
			Host:               params.GetHost(),
			Port:               params.GetPort(),
			User:               params.user,
			Password:           params.GetPassword(),
			Socket:             params.socket,
			TLSMode:            firstNonEmpty(o.TLSMode, params.GetTLSMode()),
			TLSCertificatePath: firstNonEmpty(o.TLSCertificatePath, params.tlsCA),
		}, nil
	}

	myCnf, err := loadMyCnf(home)
	if err != nil {
		return nil, err
	}
	r := &Resolved{
		Host:               firstNonEmpty(o.Host, myCnf.GetHost()),
		Port:               o.Port,
		User:               firstNonEmpty(o.User, myCnf.user),
		Socket:             firstNonEmpty(o.Socket, myCnf.socket),
		TLSMode:            firstNonEmpty(o.TLSMode, myCnf.GetTLSMode()),
		TLSCertificatePath: firstNonEmpty(o.TLSCertificatePath, myCnf.tlsCA),
	}
	if r.Port == 0 {
		r.Port = myCnf.GetPort()
	}
	switch {
	case o.AskPass:
		if r.Password, err = readPassword(); err != nil {
			return nil, err
		}
	case o.Password != "":
		r.Password = o.Password
	default:
		r.Password = myCnf.GetPassword()
	}
	return r, nil
}

// loadMyCnf loads ~/.my.cnf. A missing file yields an empty (default) set.
func loadMyCnf(home string) (*clientParams, error) {
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return nil, nil //nolint:nilerr // no home directory means no ~/.my.cnf
		}
	}
	path := filepath.Join(home, ".my.cnf")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return loadClientParams(path)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// DSN returns a go-sql-driver DSN. A socket takes priority over host and port.
func (r *Resolved) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = r.User
	cfg.Passwd = r.Password
	if r.Socket != "" {
		cfg.Net = "unix"
		cfg.Addr = r.Socket
	} else {
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
	}
	return cfg.FormatDSN()
}

// Target describes the server for log messages without the password.
func (r *Resolved) Target() string {
	if r.Socket != "" {
		return r.Socket
	}
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func (r *Resolved) DBConfig() *dbconn.DBConfig {
	cfg := dbconn.NewDBConfig()
	cfg.TLSMode = r.TLSMode
	cfg.TLSCertificatePath = r.TLSCertificatePath
	return cfg
}

// NewLogger returns the text logger used by the commands. Verbose output
// is logged at debug level.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
