package session

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// SessionCookie carries the signed session id.
	SessionCookie = "pollcast_session"
	// CeremonyCookie carries the signed id of an in-flight passkey ceremony.
	CeremonyCookie = "pollcast_ceremony"
	// CeremonyHeader lets non-browser clients replay the ceremony id.
	CeremonyHeader = "X-Ceremony-Id"
)

// Cookies reads and writes the signed session and ceremony cookies.
type Cookies struct {
	signer      *TokenSigner
	secure      bool
	sessionTTL  time.Duration
	ceremonyTTL time.Duration
}

// NewCookies creates the cookie transport.
func NewCookies(signer *TokenSigner, secure bool, sessionTTL, ceremonyTTL time.Duration) *Cookies {
	return &Cookies{signer: signer, secure: secure, sessionTTL: sessionTTL, ceremonyTTL: ceremonyTTL}
}

func (k *Cookies) set(c *gin.Context, name, value string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(name, value, int(ttl.Seconds()), "/", "", k.secure, true)
}

func (k *Cookies) clear(c *gin.Context, name string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(name, "", -1, "/", "", k.secure, true)
}

// SetSession issues the session cookie for sid.
func (k *Cookies) SetSession(c *gin.Context, sid string) error {
	tok, err := k.signer.Sign(KindSession, sid, k.sessionTTL)
	if err != nil {
		return err
	}
	k.set(c, SessionCookie, tok, k.sessionTTL)
	return nil
}

// SessionID returns the verified session id from the request, or "".
func (k *Cookies) SessionID(c *gin.Context) string {
	raw, err := c.Cookie(SessionCookie)
	if err != nil || raw == "" {
		return ""
	}
	sid, err := k.signer.Verify(KindSession, raw)
	if err != nil {
		return ""
	}
	return sid
}

// ClearSession expires the session cookie.
func (k *Cookies) ClearSession(c *gin.Context) { k.clear(c, SessionCookie) }

// SetCeremony issues the ceremony cookie and mirrors the id in CeremonyHeader.
func (k *Cookies) SetCeremony(c *gin.Context, id string) error {
	tok, err := k.signer.Sign(KindCeremony, id, k.ceremonyTTL)
	if err != nil {
		return err
	}
	k.set(c, CeremonyCookie, tok, k.ceremonyTTL)
	c.Header(CeremonyHeader, tok)
	return nil
}

// CeremonyID returns the verified ceremony id from the cookie or header, or "".
func (k *Cookies) CeremonyID(c *gin.Context) string {
	raw, err := c.Cookie(CeremonyCookie)
	if err != nil || raw == "" {
		raw = c.GetHeader(CeremonyHeader)
	}
	if raw == "" {
		return ""
	}
	id, err := k.signer.Verify(KindCeremony, raw)
	if err != nil {
		return ""
	}
	return id
}

// ClearCeremony expires the ceremony cookie.
func (k *Cookies) ClearCeremony(c *gin.Context) { k.clear(c, CeremonyCookie) }
