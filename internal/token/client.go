package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxErrorBody = 4 << 10

var errMissingAccessToken = errors.New("response has no access_token")

// ClientConfig configures a Client. Zero values fall back to the vendor
// defaults.
type ClientConfig struct {
	URL        string
	Lifetime   time.Duration
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client exchanges a long-lived authorization key for a short-lived bearer
// token. It never retries.
type Client struct {
	url        string
	lifetime   time.Duration
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		url:        cfg.URL,
		lifetime:   cfg.Lifetime,
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		now:        time.Now,
	}

	if c.url == "" {
		c.url = DefaultTokenURL
	}
	if c.lifetime <= 0 {
		c.lifetime = DefaultLifetime
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	return c
}

type oauthResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
}

// RequestCredential performs one POST to the issuance endpoint. ExpiresAt is
// computed locally from the configured lifetime; any server supplied expiry is
// ignored.
func (c *Client) RequestCredential(ctx context.Context, authorizationKey, scope string) (Credential, error) {
	if authorizationKey == "" {
		return Credential{}, ErrNoAuthorizationKey
	}
	if scope == "" {
		scope = DefaultScope
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	form := url.Values{"scope": {scope}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, &AcquisitionError{Err: fmt.Errorf("create request: %w", err)}
	}

	rqUID := uuid.NewString()
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", rqUID)
	req.Header.Set("Authorization", "Basic "+authorizationKey)

	issuedAt := c.now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Credential{}, &AcquisitionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Credential{}, &AcquisitionError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var parsed oauthResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Credential{}, &AcquisitionError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}

	if parsed.AccessToken == "" {
		return Credential{}, &AcquisitionError{StatusCode: resp.StatusCode, Err: errMissingAccessToken}
	}

	cred := Credential{
		Value:     parsed.AccessToken,
		ExpiresAt: issuedAt.Add(c.lifetime),
		Scope:     scope,
	}

	c.logger.Debug("Obtained credential",
		"rq_uid", rqUID,
		"scope", scope,
		"expires_at", cred.ExpiresAt,
		"token", cred.Preview(),
	)

	return cred, nil
}
