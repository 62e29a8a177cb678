package dbconn

import (
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/block/crptoolkit/pkg/utils"
	"github.com/go-sql-driver/mysql"
)

const (
	customTLSConfigName   = "custom"
	requiredTLSConfigName = "required"
	verifyCATLSConfigName = "verify_ca"
	verifyIDTLSConfigName = "verify_identity"
	maxConnLifetime       = time.Minute * 3
)

var ErrUnknownTLSMode = errors.New("unknown TLS mode")

// NewCustomTLSConfig creates a TLS config based on SSL mode and certificate data.
// certData may be empty, in which case the system roots are used for the
// verifying modes.
func NewCustomTLSConfig(certData []byte, sslMode string) *tls.Config {
	var caCertPool *x509.CertPool
	if len(certData) > 0 {
		caCertPool = x509.NewCertPool()
		caCertPool.AppendCertsFromPEM(certData)
	}

	switch sslMode {
	case "DISABLED":
		return nil
	case "PREFERRED", "REQUIRED":
		// Encryption only - no certificate verification
		return &tls.Config{
			RootCAs:            caCertPool,
			InsecureSkipVerify: true,
		}
	case "VERIFY_CA":
		// Verify certificate against CA, but allow hostname mismatches
		return &tls.Config{
			RootCAs:            caCertPool,
			InsecureSkipVerify: true, // Skip all default verification
			VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
				return verifyChainWithoutHostname(rawCerts, caCertPool)
			},
		}
	case "VERIFY_IDENTITY":
		return &tls.Config{
			RootCAs:            caCertPool,
			InsecureSkipVerify: false,
		}
	}
	return nil
}

func verifyChainWithoutHostname(rawCerts [][]byte, roots *x509.CertPool) error {
	if len(rawCerts) == 0 {
		return errors.New("no certificates provided")
	}
	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, rawCert := range rawCerts {
		cert, err := x509.ParseCertificate(rawCert)
		if err != nil {
			return fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	// No DNSName: the hostname is deliberately not checked in VERIFY_CA.
	if _, err := certs[0].Verify(x509.VerifyOptions{Roots: roots, Intermediates: intermediates}); err != nil {
		return fmt.Errorf("certificate verification failed: %w", err)
	}
	return nil
}

// getTLSConfigName returns the registered TLS config name for the mode
func getTLSConfigName(mode string) string {
	switch mode {
	case "REQUIRED":
		return requiredTLSConfigName
	case "VERIFY_CA":
		return verifyCATLSConfigName
	case "VERIFY_IDENTITY":
		return verifyIDTLSConfigName
	default:
		return customTLSConfigName
	}
}

// registerTLS registers a TLS configuration for the mode with the driver
// and returns the name it was registered under.
func registerTLS(config *DBConfig) (string, error) {
	var certData []byte
	if config.TLSCertificatePath != "" {
		var err error
		if certData, err = os.ReadFile(config.TLSCertificatePath); err != nil {
			return "", err
		}
	}
	name := getTLSConfigName(config.TLSMode)
	if err := mysql.RegisterTLSConfig(name, NewCustomTLSConfig(certData, config.TLSMode)); err != nil {
		return "", err
	}
	return name, nil
}

// newDSN returns a new DSN to be used to connect to MySQL.
// It accepts a DSN as input and appends TLS configuration
// and session settings based on the provided configuration.
func newDSN(dsn string, config *DBConfig) (string, error) {
	var ops []string
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	mode := strings.ToUpper(config.TLSMode)
	config.TLSMode = mode

	switch mode {
	case "DISABLED":
	case "", "PREFERRED":
		// TLS over a unix socket buys nothing; for TCP let the driver
		// fall back to plaintext when the server has no TLS.
		if cfg.Net != "unix" {
			if config.TLSCertificatePath != "" {
				name, err := registerTLS(config)
				if err != nil {
					return "", err
				}
				ops = append(ops, "tls="+url.QueryEscape(name))
			} else {
				ops = append(ops, "tls=preferred")
			}
		}
	case "REQUIRED", "VERIFY_CA", "VERIFY_IDENTITY":
		name, err := registerTLS(config)
		if err != nil {
			return "", err
		}
		ops = append(ops, "tls="+url.QueryEscape(name))
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTLSMode, config.TLSMode)
	}

	ops = append(ops, fmt.Sprintf("%s=%s", "lock_wait_timeout", url.QueryEscape(strconv.Itoa(config.LockWaitTimeout))))
	ops = append(ops, fmt.Sprintf("%s=%s", "charset", "utf8mb4"))
	// Allow mysql_native_password authentication
	ops = append(ops, fmt.Sprintf("%s=%s", "allowNativePasswords", "true"))

	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + strings.Join(ops, "&"), nil
}

// New is similar to sql.Open except we take the inputDSN and
// append additional options to it to standardize the connection.
// It will also ping the connection to ensure it is valid.
func New(inputDSN string, config *DBConfig) (*sql.DB, error) {
	dsn, err := newDSN(inputDSN, config)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		utils.ErrInErr(db.Close())
		return nil, err
	}
	db.SetMaxOpenConns(config.MaxOpenConnections)
	db.SetMaxIdleConns(config.MaxOpenConnections)
	db.SetConnMaxLifetime(maxConnLifetime)
	return db, nil
}
