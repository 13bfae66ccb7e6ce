package schwab

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"unified_portfolio/internal/broker"
	apperrors "unified_portfolio/internal/errors"
	"unified_portfolio/internal/logger"
)

const (
	authorizePath = "/v1/oauth/authorize"
	tokenPath     = "/v1/oauth/token"

	codeMarker = "code="
	atMarker   = "%40"
)

// State is the authorization state of a Manager.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StatePending         State = "authorization_pending"
	StateAuthenticated   State = "authenticated"
	StateRefreshing      State = "refreshing"
)

// Credentials are the app registration values.
type Credentials struct {
	AppKey   string
	Secret   string
	Callback string
}

func (c Credentials) validate(needSecret bool) error {
	if c.AppKey == "" || c.Callback == "" || (needSecret && c.Secret == "") {
		return apperrors.Wrap(apperrors.ErrValidation, "schwab credentials", ErrMissingCredentials).
			WithDetails(map[string]any{"provider": broker.Schwab})
	}
	return nil
}

// Session is an authorized OAuth session. A refresh replaces the tokens
// and keeps the cached account hash. A code exchange starts without one.
type Session struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	IDToken      string    `json:"-"`
	AccountHash  string    `json:"-"`
	IssuedAt     time.Time `json:"issued_at"`
	Expiry       time.Time `json:"expiry"`
}

// Manager runs the authorization code flow and keeps the session current.
type Manager struct {
	authBaseURL string
	httpClient  *http.Client
	api         *Client
	now         func() time.Time
	log         *logger.Entry

	mu        sync.Mutex
	creds     Credentials
	state     State
	session   *Session
	onSession func(Session)

	// generation changes whenever the session is discarded or reseeded.
	// Token responses that arrive for an older generation are dropped.
	generation uint64

	// refreshMu allows one refresh in flight.
	refreshMu sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithAuthBaseURL sets the base URL of the OAuth endpoints.
func WithAuthBaseURL(baseURL string) ManagerOption {
	return func(m *Manager) {
		m.authBaseURL = baseURL
	}
}

// WithTokenHTTPClient sets the HTTP client used for token requests.
func WithTokenHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) {
		m.httpClient = c
	}
}

// WithAPIClient sets the client used to resolve the account hash.
func WithAPIClient(c *Client) ManagerOption {
	return func(m *Manager) {
		m.api = c
	}
}

// WithManagerClock overrides the manager's time source.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *logger.Log) ManagerOption {
	return func(m *Manager) {
		m.log = l.WithComponent(broker.Schwab)
	}
}

// NewManager creates an unauthenticated Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		authBaseURL: DefaultBaseURL,
		httpClient:  &http.Client{Timeout: httpClientTimeout},
		now:         time.Now,
		state:       StateUnauthenticated,
		log:         logger.GetLogger().WithComponent(broker.Schwab),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.api == nil {
		m.api = NewClient(WithBaseURL(m.authBaseURL))
	}
	return m
}

// Configure sets the credentials used by subsequent calls.
func (m *Manager) Configure(creds Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = creds
}

// OnSession registers fn to be called with every new session. It runs
// outside the manager's locks.
func (m *Manager) OnSession(fn func(Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSession = fn
}

// State returns the current authorization state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the current session.
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// Restore seeds the session from a persisted refresh token. The next
// Refresh mints the access token.
func (m *Manager) Restore(refreshToken string) {
	if refreshToken == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &Session{RefreshToken: refreshToken}
	m.state = StateAuthenticated
	m.generation++
}

// Logout drops the session. A refresh or exchange still in flight is
// discarded when it completes.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	m.state = StateUnauthenticated
	m.generation++
}

// AuthorizationURL returns the URL the user opens to authorize the app.
func (m *Manager) AuthorizationURL() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.creds.validate(false); err != nil {
		return "", err
	}
	if m.session == nil {
		m.state = StatePending
	}
	return m.oauthConfig(m.creds).AuthCodeURL(""), nil
}

// ExtractCode pulls the authorization code out of the redirected URL. The
// code is the text between "code=" and the next "%40", with the encoded
// "@" restored.
func ExtractCode(redirectedURL string) (string, error) {
	start := strings.Index(redirectedURL, codeMarker)
	if start < 0 {
		return "", codeError()
	}
	start += len(codeMarker)

	end := strings.Index(redirectedURL[start:], atMarker)
	if end < 0 {
		return "", codeError()
	}
	return redirectedURL[start:start+end] + "@", nil
}

func codeError() error {
	return apperrors.Wrap(apperrors.ErrAuthExchange, "extracting authorization code", ErrCodeNotFound).
		WithDetails(map[string]any{"provider": broker.Schwab})
}

// ExchangeCode trades the code in the redirected URL for a session.
func (m *Manager) ExchangeCode(ctx context.Context, redirectedURL string) (*Session, error) {
	code, err := ExtractCode(redirectedURL)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	creds := m.creds
	gen := m.generation
	m.mu.Unlock()
	if err := creds.validate(true); err != nil {
		return nil, err
	}

	tok, err := m.oauthConfig(creds).Exchange(m.tokenContext(ctx), code)
	if err != nil {
		m.mu.Lock()
		if m.session == nil {
			m.state = StateUnauthenticated
		}
		m.mu.Unlock()
		m.log.WithError(err).Warn("authorization code exchange failed")
		return nil, tokenError(err)
	}

	s := m.newSession(tok)
	if !m.setSession(s, gen, false) {
		m.log.Info("logged out during code exchange, session discarded")
		return nil, discardedError()
	}
	m.log.Info("authorization code exchanged")
	return s, nil
}

// Refresh replaces the session using its refresh token. Any failure drops
// the session and the user has to authorize again.
func (m *Manager) Refresh(ctx context.Context) (*Session, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.Lock()
	creds := m.creds
	current := m.session
	if err := creds.validate(true); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if current == nil || current.RefreshToken == "" {
		m.mu.Unlock()
		return nil, apperrors.Wrap(apperrors.ErrAuthExchange, "refreshing token", ErrNoSession).
			WithDetails(map[string]any{"provider": broker.Schwab})
	}
	m.state = StateRefreshing
	gen := m.generation
	m.mu.Unlock()

	src := m.oauthConfig(creds).TokenSource(m.tokenContext(ctx), &oauth2.Token{RefreshToken: current.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		m.mu.Lock()
		if m.generation == gen {
			m.session = nil
			m.state = StateUnauthenticated
			m.generation++
		}
		m.mu.Unlock()
		m.log.WithError(err).Warn("token refresh failed, session dropped")
		return nil, tokenError(err)
	}

	s := m.newSession(tok)
	if !m.setSession(s, gen, true) {
		m.log.Info("logged out during refresh, session discarded")
		return nil, discardedError()
	}
	m.log.Debug("token refreshed")
	return s, nil
}

// ResolveAccountHash returns the hash of the first account, looking it up
// once per session.
func (m *Manager) ResolveAccountHash(ctx context.Context) (string, error) {
	m.mu.Lock()
	current := m.session
	gen := m.generation
	m.mu.Unlock()

	if current == nil || current.AccessToken == "" {
		return "", apperrors.Wrap(apperrors.ErrAuthExchange, "resolving account", ErrNoSession).
			WithDetails(map[string]any{"provider": broker.Schwab})
	}
	if current.AccountHash != "" {
		return current.AccountHash, nil
	}

	accounts, err := m.api.AccountNumbers(ctx, current.AccessToken)
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 || accounts[0].HashValue == "" {
		return "", apperrors.Wrap(apperrors.ErrSchema, "resolving account", ErrNoAccount).
			WithDetails(map[string]any{"provider": broker.Schwab, "endpoint": accountNumbersPath})
	}
	hash := accounts[0].HashValue

	m.mu.Lock()
	if m.session != nil && m.generation == gen {
		next := *m.session
		next.AccountHash = hash
		m.session = &next
	}
	m.mu.Unlock()
	return hash, nil
}

func (m *Manager) oauthConfig(creds Credentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.AppKey,
		ClientSecret: creds.Secret,
		RedirectURL:  creds.Callback,
		Endpoint: oauth2.Endpoint{
			AuthURL:   m.authBaseURL + authorizePath,
			TokenURL:  m.authBaseURL + tokenPath,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

func (m *Manager) tokenContext(ctx context.Context) context.Context {
	if m.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

func (m *Manager) newSession(tok *oauth2.Token) *Session {
	idToken, _ := tok.Extra("id_token").(string)
	return &Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      idToken,
		IssuedAt:     m.now(),
		Expiry:       tok.Expiry,
	}
}

// setSession installs s unless the session was discarded since gen was
// read. A refresh keeps the cached account hash; a new authorization
// starts a new generation so refreshes of the old session are dropped.
func (m *Manager) setSession(s *Session, gen uint64, refreshed bool) bool {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return false
	}
	if refreshed && m.session != nil {
		s.AccountHash = m.session.AccountHash
	} else {
		m.generation++
	}
	m.session = s
	m.state = StateAuthenticated
	hook := m.onSession
	m.mu.Unlock()

	if hook != nil {
		hook(*s)
	}
	return true
}

func discardedError() error {
	return apperrors.Wrap(apperrors.ErrAuthExchange, "installing session", ErrNoSession).
		WithDetails(map[string]any{"provider": broker.Schwab})
}

// tokenError maps a token endpoint failure. Rejections carry the upstream
// status; transport failures are network errors.
func tokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return apperrors.AuthExchange(broker.Schwab, tokenPath, retrieveErr.Response.StatusCode, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return apperrors.Network(broker.Schwab, tokenPath, 0, err)
	}
	return apperrors.AuthExchange(broker.Schwab, tokenPath, 0, err)
}
