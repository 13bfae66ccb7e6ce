package handlers

import (
	"context"
	"net/http"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"unified_portfolio/internal/broker"
	"unified_portfolio/internal/broker/schwab"
	apperrors "unified_portfolio/internal/errors"
	"unified_portfolio/internal/logger"
	"unified_portfolio/internal/middleware"
	"unified_portfolio/internal/models"
	"unified_portfolio/internal/sync"
)

const qrSize = 256

// SchwabHandler drives the Schwab authorization flow.
type SchwabHandler struct {
	manager     *schwab.Manager
	configurer  Configurer
	logout      func(ctx context.Context) error
	syncService *sync.Service
	log         *logger.Entry
}

// NewSchwabHandler creates a new SchwabHandler.
func NewSchwabHandler(deps *Dependencies) *SchwabHandler {
	return &SchwabHandler{
		manager:     deps.SchwabManager,
		configurer:  deps.SchwabConfigurer,
		logout:      deps.SchwabLogout,
		syncService: deps.SyncService,
		log:         deps.logger().WithComponent(broker.Schwab),
	}
}

type exchangeRequest struct {
	RedirectURL string `json:"redirect_url"`
}

// authorizationURL loads the app credentials and builds the URL the user
// has to open.
func (h *SchwabHandler) authorizationURL(ctx context.Context) (string, error) {
	if h.configurer != nil {
		if err := h.configurer.Configure(ctx); err != nil {
			return "", err
		}
	}
	return h.manager.AuthorizationURL()
}

// Start returns the authorization URL and the current state.
func (h *SchwabHandler) Start(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.authorizationURL(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   string(h.manager.State()),
		"auth_url": authURL,
	})
}

// QRCode serves the authorization URL as a PNG so it can be opened on a
// phone.
func (h *SchwabHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.authorizationURL(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	png, err := qrcode.Encode(authURL, qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, apperrors.Internal("rendering QR code", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	_, _ = w.Write(png)
}

// Callback handles the browser redirect. The raw request URI is used so the
// encoded code suffix survives.
func (h *SchwabHandler) Callback(w http.ResponseWriter, r *http.Request) {
	h.exchange(w, r, r.URL.RequestURI())
}

// Exchange accepts a redirected URL pasted by the user.
func (h *SchwabHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := middleware.DecodeJSON(w, r, &req); err != nil {
		writeError(w, apperrors.Validation("invalid request body: "+err.Error()))
		return
	}

	var verrs middleware.ValidationErrors
	redirect := middleware.SanitizeString(req.RedirectURL)
	switch {
	case !middleware.ValidateRequired(redirect):
		verrs.Add("redirect_url", "is required")
	case !middleware.ValidateLength(redirect, 1, 4096):
		verrs.Add("redirect_url", "is too long")
	case !strings.Contains(redirect, "code="):
		verrs.Add("redirect_url", "has no authorization code")
	}
	if verrs.HasErrors() {
		verrs.WriteJSON(w)
		return
	}

	h.exchange(w, r, redirect)
}

func (h *SchwabHandler) exchange(w http.ResponseWriter, r *http.Request, redirect string) {
	if h.configurer != nil {
		if err := h.configurer.Configure(r.Context()); err != nil {
			writeError(w, err)
			return
		}
	}

	if _, err := h.manager.ExchangeCode(r.Context(), redirect); err != nil {
		h.log.WithFields(logger.Fields(apperrors.Details(err))).WithError(err).Warn("code exchange failed")
		writeError(w, err)
		return
	}

	if h.syncService != nil {
		go h.refreshAfterAuth()
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(h.manager.State())})
}

// refreshAfterAuth runs a Schwab cycle detached from the request.
func (h *SchwabHandler) refreshAfterAuth() {
	if _, err := h.syncService.RefreshProvider(context.Background(), broker.Schwab, models.TriggerManual); err != nil {
		h.log.WithError(err).Warn("refresh after authorization failed")
	}
}

// Status reports the authorization state.
func (h *SchwabHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": string(h.manager.State())}
	if s, ok := h.manager.Session(); ok {
		resp["expires_at"] = s.Expiry
		resp["account_resolved"] = s.AccountHash != ""
	}
	writeJSON(w, http.StatusOK, resp)
}

// Logout drops the session.
func (h *SchwabHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.logout == nil {
		h.manager.Logout()
	} else if err := h.logout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(h.manager.State())})
}
