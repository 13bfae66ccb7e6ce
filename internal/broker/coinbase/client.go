// Package coinbase integrates the Coinbase Advanced Trade brokerage API.
package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"unified_portfolio/internal/broker"
	apperrors "unified_portfolio/internal/errors"
	"unified_portfolio/internal/logger"
)

const (
	// DefaultBaseURL is the production API.
	DefaultBaseURL = "https://" + APIHost

	portfoliosPath = "/api/v3/brokerage/portfolios"

	httpClientTimeout = 30 * time.Second
	requestDelay      = 200 * time.Millisecond
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=coinbase -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Credentials are the API key name and its private key.
type Credentials struct {
	KeyName    string
	PrivateKey string
}

// Client provides methods for accessing the portfolio endpoints.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	signer     *Signer
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

// WithSigner sets the request signer.
func WithSigner(s *Signer) ClientOption {
	return func(c *Client) {
		c.signer = s
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
		c.log = l.WithComponent(broker.Coinbase)
	}
}

// NewClient creates a new Coinbase API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: httpClientTimeout},
		signer:     NewSigner(),
		limiter:    rate.NewLimiter(rate.Every(requestDelay), 1),
		log:        logger.GetLogger().WithComponent(broker.Coinbase),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchPortfolio lists portfolios and returns the breakdown of the first one.
// Each call is signed with its own token.
func (c *Client) FetchPortfolio(ctx context.Context, creds Credentials) (*BreakdownResponse, error) {
	list, err := c.ListPortfolios(ctx, creds)
	if err != nil {
		return nil, err
	}
	if len(list.Portfolios) == 0 || list.Portfolios[0].UUID == "" {
		return nil, apperrors.Schema(broker.Coinbase, "no portfolio returned").
			WithDetails(map[string]any{"endpoint": portfoliosPath})
	}
	first := list.Portfolios[0]
	c.log.WithFields(logger.Fields{"portfolio": first.Name, "uuid": first.UUID}).Debug("using first portfolio")
	return c.GetBreakdown(ctx, creds, first.UUID)
}

// ListPortfolios retrieves the account's portfolios.
func (c *Client) ListPortfolios(ctx context.Context, creds Credentials) (*PortfoliosResponse, error) {
	body, err := c.get(ctx, creds, portfoliosPath)
	if err != nil {
		return nil, err
	}

	var resp PortfoliosResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSchema, "decoding portfolios", err).
			WithDetails(map[string]any{"provider": broker.Coinbase, "endpoint": portfoliosPath})
	}
	return &resp, nil
}

// GetBreakdown retrieves the positions and balances of a portfolio.
func (c *Client) GetBreakdown(ctx context.Context, creds Credentials, uuid string) (*BreakdownResponse, error) {
	path := portfoliosPath + "/" + uuid
	body, err := c.get(ctx, creds, path)
	if err != nil {
		return nil, err
	}

	var resp BreakdownResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSchema, "decoding portfolio breakdown", err).
			WithDetails(map[string]any{"provider": broker.Coinbase, "endpoint": portfoliosPath + "/{uuid}"})
	}
	return &resp, nil
}

// get performs a signed GET request and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, creds Credentials, path string) ([]byte, error) {
	token, err := c.signer.Sign(creds.KeyName, creds.PrivateKey, http.MethodGet, path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, apperrors.Internal("building request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperrors.Network(broker.Coinbase, path, 0, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithFields(logger.Fields{"endpoint": path}).WithError(err).Warn("request failed")
		return nil, apperrors.Network(broker.Coinbase, path, 0, err)
	}
	defer resp.Body.Close()

	c.log.WithFields(logger.Fields{"endpoint": path, "status": resp.StatusCode}).Debug("response received")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Network(broker.Coinbase, path, resp.StatusCode, fmt.Errorf("reading response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.AuthExchange(broker.Coinbase, path, resp.StatusCode, nil)
	default:
		return nil, apperrors.Network(broker.Coinbase, path, resp.StatusCode,
			fmt.Errorf("status %d, body: %s", resp.StatusCode, truncate(body, 256)))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
