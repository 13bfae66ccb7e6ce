package coinbase

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"unified_portfolio/internal/broker"
	apperrors "unified_portfolio/internal/errors"
)

const (
	// APIHost is the host bound into every request token.
	APIHost = "api.coinbase.com"

	tokenIssuer   = "cdp"
	tokenLifetime = 120 * time.Second
)

// Claims are the claims of a Coinbase request token.
type Claims struct {
	URI string `json:"uri"`
	jwt.RegisteredClaims
}

// Signer mints ES256 request tokens. A token is bound to one method and
// path and must not be reused for another request.
type Signer struct {
	host string
	now  func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithClock overrides the signer's time source.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		s.now = now
	}
}

// WithHost overrides the host bound into the uri claim.
func WithHost(host string) SignerOption {
	return func(s *Signer) {
		s.host = host
	}
}

// NewSigner creates a new Signer.
func NewSigner(opts ...SignerOption) *Signer {
	s := &Signer{host: APIHost, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign returns a token for method and path, keyed by the API key name and
// its PEM encoded EC private key. Literal "\n" sequences in the key are
// unescaped first.
func (s *Signer) Sign(keyName, secret, method, path string) (string, error) {
	if keyName == "" {
		return "", apperrors.Signing(broker.Coinbase, fmt.Errorf("empty key name"))
	}

	pem := strings.ReplaceAll(secret, `\n`, "\n")
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(pem))
	if err != nil {
		return "", apperrors.Signing(broker.Coinbase, fmt.Errorf("parsing private key: %w", err))
	}

	now := s.now()
	claims := Claims{
		URI: fmt.Sprintf("%s %s%s", strings.ToUpper(method), s.host, path),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   keyName,
			Issuer:    tokenIssuer,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = keyName
	token.Header["nonce"] = nonce()

	signed, err := token.SignedString(key)
	if err != nil {
		return "", apperrors.Signing(broker.Coinbase, fmt.Errorf("signing token: %w", err))
	}
	return signed, nil
}

func nonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
