// Package tlsconfig builds the tls.Config values used on both ends of the
// rendezvous connection. A relay's identity here has no secondary,
// out-of-band authentication channel, so its TLS certificate is the only
// thing standing between a client and an active man-in-the-middle. Clients
// verify the server against an embedded root CA rather than skipping
// verification.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"embed"
	"fmt"
)

//go:embed rootca.pem
var embeddedFS embed.FS

// defaultRootCAPEM is the CA certificate daphne clients trust out of the
// box when dialing the default public relay. Operators of a private relay
// pass their own root CA to ClientConfig instead.
const defaultRootCAPEM = "rootca.pem"

// ServerConfig loads a certificate/key pair from disk and returns a
// tls.Config suitable for tls.Listen, requiring TLS 1.2 at minimum.
func ServerConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("tlsconfig: load server certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ClientConfig returns a tls.Config that verifies the rendezvous server's
// certificate against rootCAPEM (a PEM-encoded certificate) and expects a
// certificate valid for serverName. If rootCAPEM is nil, the CA embedded
// in the binary is used.
func ClientConfig(serverName string, rootCAPEM []byte) (*tls.Config, error) {
	if rootCAPEM == nil {
		embedded, err := embeddedFS.ReadFile(defaultRootCAPEM)
		if err != nil {
			return nil, fmt.Errorf("tlsconfig: read embedded root CA: %w", err)
		}
		rootCAPEM = embedded
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(rootCAPEM) {
		return nil, fmt.Errorf("tlsconfig: no valid certificates found in root CA PEM")
	}
	return &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}, nil
}
