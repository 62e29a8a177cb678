package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func mkIniFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "test_creds.cnf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// mkHome returns a home directory holding a .my.cnf with the given content.
func mkHome(t *testing.T, content string) string {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, ".my.cnf"), []byte(content), 0o600))
	return home
}

func TestResolveDefaults(t *testing.T) {
	opts := &Options{}
	r, err := opts.Resolve(t.TempDir()) // no .my.cnf
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", r.Host)
	assert.Equal(t, 3306, r.Port)
	assert.Empty(t, r.User)
	assert.Empty(t, r.Password)
	assert.Empty(t, r.Socket)
	assert.Equal(t, "PREFERRED", r.TLSMode)
	assert.Equal(t, "127.0.0.1:3306", r.Target())
}

func TestResolveFlagsOverrideMyCnf(t *testing.T) {
	home := mkHome(t, `[client]
user = cnfuser
password = cnfpass
host = cnfhost
port = 3307
`)
	opts := &Options{
		User:     "cliuser",
		Password: "clipass",
		Host:     "clihost",
		Port:     4000,
	}
	r, err := opts.Resolve(home)
	require.NoError(t, err)
	assert.Equal(t, "cliuser", r.User)
	assert.Equal(t, "clipass", r.Password)
	assert.Equal(t, "clihost", r.Host)
	assert.Equal(t, 4000, r.Port)
}

func TestResolveFallsBackToMyCnf(t *testing.T) {
	home := mkHome(t, `[mysqld]
port = 9999

[client]
user = cnfuser
password = p#ss;word
host = cnfhost
port = 3307
ssl-mode = REQUIRED
skip-column-names
`)
	r, err := (&Options{}).Resolve(home)
	require.NoError(t, err)
	assert.Equal(t, "cnfuser", r.User)
	assert.Equal(t, "p#ss;word", r.Password)
	assert.Equal(t, "cnfhost", r.Host)
	assert.Equal(t, 3307, r.Port)
	assert.Equal(t, "REQUIRED", r.TLSMode)
}

func TestResolveMyCnfWithoutClientSection(t *testing.T) {
	home := mkHome(t, `[mysqld]
user = mysql
`)
	r, err := (&Options{}).Resolve(home)
	require.NoError(t, err)
	assert.Empty(t, r.User)
	assert.Equal(t, "127.0.0.1", r.Host)
}

func TestResolveDefaultsFileIsExclusive(t *testing.T) {
	path := mkIniFile(t, `[client]
user = fileuser
password = filepass
host = filehost
port = 5678
tls-mode = VERIFY_IDENTITY
tls-ca = /path/from/file
`)
	home := mkHome(t, `[client]
user = cnfuser
`)
	opts := &Options{
		User:         "cliuser",
		Password:     "clipass",
		Host:         "clihost",
		Port:         1234,
		DefaultsFile: path,
	}
	r, err := opts.Resolve(home)
	require.NoError(t, err)
	assert.Equal(t, "fileuser", r.User)
	assert.Equal(t, "filepass", r.Password)
	assert.Equal(t, "filehost", r.Host)
	assert.Equal(t, 5678, r.Port)
	assert.Equal(t, "VERIFY_IDENTITY", r.TLSMode)
	assert.Equal(t, "/path/from/file", r.TLSCertificatePath)

	// TLS flags still apply.
	opts.TLSMode = "DISABLED"
	r, err = opts.Resolve(home)
	require.NoError(t, err)
	assert.Equal(t, "DISABLED", r.TLSMode)
}

func TestResolveDefaultsFileDefaults(t *testing.T) {
	path := mkIniFile(t, `[client]
user = fileuser
`)
	r, err := (&Options{DefaultsFile: path}).Resolve(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", r.Host)
	assert.Equal(t, 3306, r.Port)
	assert.Empty(t, r.Password)
}

func TestResolveMissingDefaultsFile(t *testing.T) {
	_, err := (&Options{DefaultsFile: filepath.Join(t.TempDir(), "nope.cnf")}).Resolve(t.TempDir())
	require.Error(t, err)
}

func TestResolveAskPass(t *testing.T) {
	orig := readPassword
	defer func() { readPassword = orig }()

	readPassword = func() (string, error) { return "typed", nil }
	home := mkHome(t, `[client]
password = cnfpass
`)
	r, err := (&Options{AskPass: true, Password: "clipass"}).Resolve(home)
	require.NoError(t, err)
	assert.Equal(t, "typed", r.Password)

	readPassword = func() (string, error) { return "", ErrPasswordPrompt }
	_, err = (&Options{AskPass: true}).Resolve(home)
	require.ErrorIs(t, err, ErrPasswordPrompt)
}

func TestResolvedDSN(t *testing.T) {
	r := &Resolved{Host: "db.example.com", Port: 3307, User: "u", Password: "p@ss:w/rd"}
	cfg, err := mysql.ParseDSN(r.DSN())
	require.NoError(t, err)
	assert.Equal(t, "tcp", cfg.Net)
	assert.Equal(t, "db.example.com:3307", cfg.Addr)
	assert.Equal(t, "u", cfg.User)
	assert.Equal(t, "p@ss:w/rd", cfg.Passwd)

	// The socket wins over host and port.
	r.Socket = "/var/run/mysqld/mysqld.sock"
	cfg, err = mysql.ParseDSN(r.DSN())
	require.NoError(t, err)
	assert.Equal(t, "unix", cfg.Net)
	assert.Equal(t, "/var/run/mysqld/mysqld.sock", cfg.Addr)
	assert.Equal(t, "/var/run/mysqld/mysqld.sock", r.Target())
}

func TestResolvedDBConfig(t *testing.T) {
	r := &Resolved{TLSMode: "VERIFY_CA", TLSCertificatePath: "/ca.pem"}
	cfg := r.DBConfig()
	assert.Equal(t, "VERIFY_CA", cfg.TLSMode)
	assert.Equal(t, "/ca.pem", cfg.TLSCertificatePath)
	assert.Equal(t, 30, cfg.LockWaitTimeout)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, false)
	logger.Debug("hidden")
	logger.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	logger = NewLogger(&buf, true)
	logger.Debug("detail", "err", errors.New("boom"))
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "err=boom")
}
