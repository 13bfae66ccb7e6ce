package schwab

import (
	"errors"
	"net/http"

	apperrors "unified_portfolio/internal/errors"
)

var (
	// ErrNoSession indicates there is no session to refresh or use.
	ErrNoSession = errors.New("no schwab session - authorize first")

	// ErrCodeNotFound indicates the redirected URL carries no authorization code.
	ErrCodeNotFound = errors.New("authorization code not found in redirected URL")

	// ErrMissingCredentials indicates the app key, secret or callback is unset.
	ErrMissingCredentials = errors.New("schwab credentials not configured")

	// ErrNoAccount indicates accountNumbers returned no hash.
	ErrNoAccount = errors.New("no schwab account returned")
)

// IsUnauthorized reports whether err is a rejected protected call, the
// signal to refresh and retry once.
func IsUnauthorized(err error) bool {
	if !apperrors.IsAuthExchange(err) {
		return false
	}
	status, _ := apperrors.Details(err)["status"].(int)
	return status == http.StatusUnauthorized
}
