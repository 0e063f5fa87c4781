package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pollcast/backend/internal/apperr"
	"github.com/pollcast/backend/internal/models"
	"github.com/pollcast/backend/internal/session"
	"github.com/pollcast/backend/pkg/response"
)

const (
	// ContextSessionID is the key for the live session id in gin context.
	ContextSessionID = "session_id"
	// ContextUser is the key for the verified *models.User in gin context.
	ContextUser = "user"
)

// Session resolves the session cookie, renews its expiry and stores the id
// in context. Unknown or expired sessions clear the cookie and continue anonymously.
func Session(binder *session.Binder, cookies *session.Cookies, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := cookies.SessionID(c)
		if sid == "" {
			c.Next()
			return
		}
		err := binder.Touch(c.Request.Context(), sid)
		switch {
		case err == nil:
			c.Set(ContextSessionID, sid)
			if err := cookies.SetSession(c, sid); err != nil {
				logger.Warn("renew session cookie", zap.Error(err))
			}
		case errors.Is(err, apperr.ErrNoActiveSession):
			cookies.ClearSession(c)
		default:
			logger.Error("touch session", zap.Error(err))
		}
		c.Next()
	}
}

// RequireUser aborts with 401 unless the session is bound to a verified user.
func RequireUser(binder *session.Binder, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := binder.RequireUser(c.Request.Context(), SessionID(c))
		if err != nil {
			if apperr.HTTPStatus(err) >= 500 {
				logger.Error("require user", zap.Error(err))
			}
			response.Error(c, err)
			c.Abort()
			return
		}
		c.Set(ContextUser, u)
		c.Next()
	}
}

// SessionID returns the live session id, or "".
func SessionID(c *gin.Context) string {
	return c.GetString(ContextSessionID)
}

// CurrentUser returns the user set by RequireUser, or nil.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(ContextUser)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}
