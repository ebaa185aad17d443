package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type Handler struct {
	passphrase *Passphrase
	sessions   *Sessions
	logger     zerolog.Logger
}

func NewHandler(passphrase *Passphrase, sessions *Sessions, logger zerolog.Logger) *Handler {
	return &Handler{passphrase: passphrase, sessions: sessions, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST(strings.TrimPrefix(LoginPath, "/api/v1"), h.Login)
}

type loginRequest struct {
	Email      string `json:"email"`
	Passphrase string `json:"passphrase"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login exchanges the clinic passphrase for a session token. The email is
// informational and becomes the token subject.
func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if !h.passphrase.Configured() {
		h.logger.Warn().Msg("login rejected: APP_PASSWORD is not configured")
		return echo.NewHTTPError(http.StatusUnauthorized, "access is not configured")
	}
	if !h.passphrase.Check(req.Passphrase) {
		h.logger.Warn().Str("email", req.Email).Str("remote_ip", c.RealIP()).Msg("login rejected: wrong passphrase")
		return echo.NewHTTPError(http.StatusUnauthorized, "incorrect passphrase")
	}

	token, exp, err := h.sessions.Issue(req.Email)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, loginResponse{Token: token, Email: strings.TrimSpace(req.Email), ExpiresAt: exp})
}
