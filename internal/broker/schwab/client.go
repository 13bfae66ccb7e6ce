// Package schwab integrates the Charles Schwab Trader API.
package schwab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"unified_portfolio/internal/broker"
	apperrors "unified_portfolio/internal/errors"
	"unified_portfolio/internal/logger"
)

const (
	// DefaultBaseURL is the production API.
	DefaultBaseURL = "https://api.schwabapi.com"

	accountNumbersPath = "/trader/v1/accounts/accountNumbers"
	accountPath        = "/trader/v1/accounts/"

	httpClientTimeout = 30 * time.Second
	requestDelay      = 200 * time.Millisecond
)

// HTTPClient describes an HTTP client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides methods for accessing the trader endpoints.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	limiter    *rate.Limiter
	log        *logger.Entry
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRequestDelay sets the minimum spacing between requests.
func WithRequestDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Log) ClientOption {
	return func(c *Client) {
		c.log = l.WithComponent(broker.Schwab)
	}
}

// NewClient creates a new Schwab API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: httpClientTimeout},
		limiter:    rate.NewLimiter(rate.Every(requestDelay), 1),
		log:        logger.GetLogger().WithComponent(broker.Schwab),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AccountNumbers lists the account numbers and their hashes.
func (c *Client) AccountNumbers(ctx context.Context, accessToken string) ([]AccountNumber, error) {
	body, err := c.get(ctx, accessToken, accountNumbersPath, accountNumbersPath)
	if err != nil {
		return nil, err
	}

	var accounts []AccountNumber
	if err := json.Unmarshal(body, &accounts); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSchema, "decoding account numbers", err).
			WithDetails(map[string]any{"provider": broker.Schwab, "endpoint": accountNumbersPath})
	}
	return accounts, nil
}

// FetchPositions retrieves the positions and balances of the session's account.
func (c *Client) FetchPositions(ctx context.Context, s *Session) (*AccountResponse, error) {
	if s == nil || s.AccessToken == "" {
		return nil, apperrors.Wrap(apperrors.ErrAuthExchange, "fetching positions", ErrNoSession).
			WithDetails(map[string]any{"provider": broker.Schwab})
	}
	if s.AccountHash == "" {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "fetching positions", ErrNoAccount).
			WithDetails(map[string]any{"provider": broker.Schwab})
	}

	path := accountPath + url.PathEscape(s.AccountHash) + "?fields=positions"
	body, err := c.get(ctx, s.AccessToken, path, accountPath+"{hash}")
	if err != nil {
		return nil, err
	}

	var resp AccountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSchema, "decoding account", err).
			WithDetails(map[string]any{"provider": broker.Schwab, "endpoint": accountPath + "{hash}"})
	}
	return &resp, nil
}

// get performs an authorized GET request and returns the body of a 200
// response. endpoint is the redacted path used in errors and logs.
func (c *Client) get(ctx context.Context, accessToken, path, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, apperrors.Internal("building request", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", accessToken))
	req.Header.Set("Accept", "application/json")

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperrors.Network(broker.Schwab, endpoint, 0, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithFields(logger.Fields{"endpoint": endpoint}).WithError(err).Warn("request failed")
		return nil, apperrors.Network(broker.Schwab, endpoint, 0, err)
	}
	defer resp.Body.Close()

	c.log.WithFields(logger.Fields{"endpoint": endpoint, "status": resp.StatusCode}).Debug("response received")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Network(broker.Schwab, endpoint, resp.StatusCode, fmt.Errorf("reading response: %w", err))
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, apperrors.AuthExchange(broker.Schwab, endpoint, resp.StatusCode, nil)
	default:
		return nil, apperrors.Network(broker.Schwab, endpoint, resp.StatusCode,
			fmt.Errorf("status %d, body: %s", resp.StatusCode, truncate(body, 256)))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
