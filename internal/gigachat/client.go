package gigachat

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"
)

const (
	DefaultAPIBase     = "https://gigachat.devices.sberbank.ru/api/v1"
	DefaultHostMarker  = "gigachat.devices.sberbank.ru"
	DefaultModelMarker = "gigachat"
)

// NewHTTPClient builds a client for vendor endpoints. Certificates in caFile,
// when set, are added to the system roots. verifySSL=false disables
// verification entirely.
func NewHTTPClient(timeout time.Duration, verifySSL bool, caFile string) (*http.Client, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if !verifySSL {
		tlsConfig.InsecureSkipVerify = true //nolint:gosec // explicit opt-out via verify_ssl_certs
	} else if caFile != "" {
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}

		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}

		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", caFile)
		}

		tlsConfig.RootCAs = pool
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}
