package peerdoc

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pkt.systems/peerdoc/internal/tlsmgr"
)

const clientTimeout = 30 * time.Second

// ClientOptions addresses a running peerdoc server.
type ClientOptions struct {
	Endpoint string
	// AdminKey is the plaintext admin bearer key, required for link
	// management and room status.
	AdminKey string
	// CAFile adds a PEM CA bundle to the system roots.
	CAFile string
}

func newHTTPClient(caFile string) (*http.Client, error) {
	pool, err := tlsmgr.LoadCAFile(caFile)
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		},
	}
	return &http.Client{Transport: transport, Timeout: clientTimeout}, nil
}

func normalizeHTTPURL(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", fmt.Errorf("endpoint is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("endpoint must include scheme")
	}
	switch strings.ToLower(parsed.Scheme) {
	case "https", "http":
		return strings.TrimRight(endpoint, "/"), nil
	case "wss":
		parsed.Scheme = "https"
	case "ws":
		parsed.Scheme = "http"
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	return strings.TrimRight(parsed.String(), "/"), nil
}

// doJSON sends body (if non-nil) as JSON and decodes a 200 response into out.
// Error responses are reported with the server's error message.
func doJSON(ctx context.Context, opts ClientOptions, method, path string, body, out any) error {
	base, err := normalizeHTTPURL(opts.Endpoint)
	if err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if opts.AdminKey != "" {
		req.Header.Set("Authorization", "Bearer "+opts.AdminKey)
	}

	client, err := newHTTPClient(opts.CAFile)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s failed: %s: %s", method, path, resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s %s failed: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
