package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pollcast/backend/internal/apperr"
	"github.com/pollcast/backend/internal/middleware"
	"github.com/pollcast/backend/internal/session"
	"github.com/pollcast/backend/pkg/response"
)

// Handler handles passkey ceremony and session endpoints.
type Handler struct {
	manager *Manager
	binder  *session.Binder
	cookies *session.Cookies
	logger  *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(manager *Manager, binder *session.Binder, cookies *session.Cookies, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, binder: binder, cookies: cookies, logger: logger}
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
		h.logger.Error(op, zap.Error(err))
	} else {
		h.logger.Info(op+" rejected", zap.Error(err))
	}
	response.Error(c, err)
}

// RegisterStart handles POST /register_start/:username.
func (h *Handler) RegisterStart(c *gin.Context) {
	ceremonyID, creation, err := h.manager.StartRegistration(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.fail(c, "register start", err)
		return
	}
	if err := h.cookies.SetCeremony(c, ceremonyID); err != nil {
		h.fail(c, "register start", err)
		return
	}
	response.OK(c, creation)
}

// RegisterFinish handles POST /register_finish. The body is the browser's
// credential creation response.
func (h *Handler) RegisterFinish(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	h.cookies.ClearCeremony(c)
	user, err := h.manager.FinishRegistration(c.Request.Context(), h.cookies.CeremonyID(c), body)
	if err != nil {
		if apperr.HTTPStatus(err) == http.StatusConflict || apperr.HTTPStatus(err) >= http.StatusInternalServerError {
			h.fail(c, "register finish", err)
			return
		}
		h.logger.Info("register finish rejected", zap.Error(err))
		response.ErrorWithStatus(c, http.StatusBadRequest, err)
		return
	}
	response.Created(c, user)
}

// LoginStart handles POST /login_start/:username.
func (h *Handler) LoginStart(c *gin.Context) {
	ceremonyID, assertion, err := h.manager.StartAuthentication(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.fail(c, "login start", err)
		return
	}
	if err := h.cookies.SetCeremony(c, ceremonyID); err != nil {
		h.fail(c, "login start", err)
		return
	}
	response.OK(c, assertion)
}

// LoginFinish handles POST /login_finish. On success the session cookie is
// rotated to a new session bound to the user.
func (h *Handler) LoginFinish(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	h.cookies.ClearCeremony(c)
	ctx := c.Request.Context()
	user, err := h.manager.FinishAuthentication(ctx, h.cookies.CeremonyID(c), body)
	if err != nil {
		if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
			h.fail(c, "login finish", err)
			return
		}
		h.logger.Info("login finish rejected", zap.Error(err))
		response.ErrorWithStatus(c, http.StatusUnauthorized, err)
		return
	}

	sid, err := h.binder.EstablishSession(ctx, user.ID, middleware.SessionID(c))
	if err != nil {
		h.fail(c, "establish session", err)
		return
	}
	if err := h.cookies.SetSession(c, sid); err != nil {
		h.fail(c, "establish session", err)
		return
	}
	h.logger.Info("user logged in", zap.String("user_id", user.ID.String()))
	response.OK(c, user)
}

// CurrentUser handles GET /api/user (behind middleware.RequireUser).
func (h *Handler) CurrentUser(c *gin.Context) {
	response.OK(c, middleware.CurrentUser(c))
}

// Logout handles GET /api/logout.
func (h *Handler) Logout(c *gin.Context) {
	err := h.binder.Destroy(c.Request.Context(), middleware.SessionID(c))
	h.cookies.ClearSession(c)
	if err != nil && !errors.Is(err, apperr.ErrNoActiveSession) {
		h.fail(c, "logout", err)
		return
	}
	response.OK(c, gin.H{"message": "logged out"})
}
