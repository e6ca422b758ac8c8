package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/mihaisavezi/gigachat-proxy/internal/config"
)

// serverBaseURL is the address the CLI uses to reach a running proxy. A
// wildcard listen host is reached over loopback.
func serverBaseURL(cfg *config.Config) string {
	host := cfg.Host
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Port))
}

// callServer sends a request to the running proxy and decodes a JSON reply
// into out. Non-2xx replies are errors.
func callServer(ctx context.Context, cfg *config.Config, method, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, serverBaseURL(cfg)+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if out != nil && len(body) > 0 {
		if decodeErr := json.Unmarshal(body, out); decodeErr != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode response: %w", decodeErr)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return nil
}
