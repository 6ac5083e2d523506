package http

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bft-labs/tagcam/internal/ports"
)

// ManifestPath is appended to the OTA server URL.
const ManifestPath = "/manifest.json"

// maxManifestSize bounds the manifest document.
const maxManifestSize = 1 << 20

// ManifestURL returns the manifest location for an OTA server.
func ManifestURL(server string) string {
	return strings.TrimRight(server, "/") + ManifestPath
}

// ManifestSource implements ports.ManifestSource over HTTP(S).
type ManifestSource struct {
	url    string
	client ports.HTTPClient
}

// NewManifestSource creates a manifest source for the given OTA server.
func NewManifestSource(server string, client ports.HTTPClient) *ManifestSource {
	return &ManifestSource{url: ManifestURL(server), client: client}
}

// Fetch downloads the manifest document.
func (m *ManifestSource) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", m.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: server returned %d", m.url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize+1))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if len(data) > maxManifestSize {
		return nil, errors.New("manifest exceeds 1 MiB")
	}
	return data, nil
}

// TLSConfig pins the OTA server.
type TLSConfig struct {
	// CAFile is a PEM bundle trusted instead of the system roots.
	CAFile string

	// ServerName overrides the name checked against the certificate.
	ServerName string
}

// NewClient returns an HTTP client for the OTA server. With an empty
// TLSConfig the system roots are used.
func NewClient(cfg TLSConfig, timeout time.Duration) (*http.Client, error) {
	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: cfg.ServerName,
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}
