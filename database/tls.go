package dbops

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"os/user"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
)

// Returns the tls.Config structure based on the specified connection
// parameters. The logic follows lib/pq (and thus libpq), so the
// sslmode values behave the way PostgreSQL users expect.
// See: https://github.com/lib/pq/blob/master/ssl.go.
func GetTLSConfig(sslMode, host, sslCert, sslKey, sslRootCert string) (*tls.Config, error) {
	verifyCAOnly := false
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	switch sslMode {
	case "require":
		// TLS's own verification requires full verification, so it must
		// be skipped here.
		tlsConfig.InsecureSkipVerify = true

		// Per the note in http://www.postgresql.org/docs/current/static/libpq-ssl.html
		// the presence of a root CA file promotes require to verify-ca.
		if len(sslRootCert) > 0 {
			if _, err := os.Stat(sslRootCert); err == nil {
				verifyCAOnly = true
			}
		}

	case "verify-ca":
		tlsConfig.InsecureSkipVerify = true
		verifyCAOnly = true

	case "verify-full":
		tlsConfig.ServerName = host

	case "", "disable":
		return nil, nil

	default:
		return nil, pkgerrors.Errorf("unsupported sslmode value %s", sslMode)
	}

	if verifyCAOnly {
		// Run our own verification for the verify-ca and require cases.
		tlsConfig.VerifyConnection = func(cs tls.ConnectionState) error {
			opts := x509.VerifyOptions{
				DNSName:       cs.ServerName,
				Intermediates: x509.NewCertPool(),
				Roots:         tlsConfig.RootCAs,
			}
			for _, cert := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(cert)
			}
			_, err := cs.PeerCertificates[0].Verify(opts)
			return err
		}
	}

	if err := setClientCertificates(tlsConfig, sslCert, sslKey); err != nil {
		return nil, err
	}

	if err := setCertificateAuthority(tlsConfig, sslRootCert); err != nil {
		return nil, err
	}

	// Accept renegotiation requests initiated by the backend. Old
	// PostgreSQL versions have it enabled in the default configuration.
	tlsConfig.Renegotiation = tls.RenegotiateFreelyAsClient

	return tlsConfig, nil
}

// Adds the certificate and key settings, or if they aren't set, from
// the .postgresql directory in the user's home directory. The
// configured files must exist and have the correct permissions.
func setClientCertificates(tlsConfig *tls.Config, sslCert, sslKey string) error {
	user, _ := user.Current()

	// In libpq, the client certificate is only loaded if the setting is
	// not blank.
	if len(sslCert) == 0 && user != nil {
		sslCert = filepath.Join(user.HomeDir, ".postgresql", "postgresql.crt")
	}
	if len(sslCert) == 0 {
		return nil
	}

	if _, err := os.Stat(sslCert); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return pkgerrors.Wrapf(err, "failed to stat the certificate file %s", sslCert)
	}

	if len(sslKey) == 0 && user != nil {
		sslKey = filepath.Join(user.HomeDir, ".postgresql", "postgresql.key")
	}
	if len(sslKey) > 0 {
		sslKeyInfo, err := os.Stat(sslKey)
		if err != nil {
			return pkgerrors.Wrapf(err, "failed to stat the key file %s", sslKey)
		}
		if sslKeyInfo.Mode().Perm()&0o077 != 0 {
			return pkgerrors.Errorf("key file %s has too large permissions", sslKey)
		}
	}

	cert, err := tls.LoadX509KeyPair(sslCert, sslKey)
	if err != nil {
		return pkgerrors.WithStack(err)
	}

	tlsConfig.Certificates = []tls.Certificate{cert}
	return nil
}

// Adds the RootCA from the specified file.
func setCertificateAuthority(tlsConfig *tls.Config, sslRootCert string) error {
	if len(sslRootCert) == 0 {
		return nil
	}

	tlsConfig.RootCAs = x509.NewCertPool()

	rootCert, err := os.ReadFile(sslRootCert)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read root CA certificate file %s", sslRootCert)
	}
	if !tlsConfig.RootCAs.AppendCertsFromPEM(rootCert) {
		return pkgerrors.Errorf("unable to parse root CA certificate %s", sslRootCert)
	}
	return nil
}
