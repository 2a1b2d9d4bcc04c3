package ginserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"chatline/internal/app/services/auth"
	domainauth "chatline/internal/domain/auth"
	"chatline/internal/infra/realtime"
)

const principalContextKey = "chatline.principal"

type principal struct {
	ID    string
	Token string
}

// AuthMiddleware resolves the session cookie or a bearer token. Requests
// without a valid credential continue anonymously; handlers decide.
type AuthMiddleware struct {
	Service    *auth.Service
	CookieName string
	Logger     *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	token := credentialFromRequest(c.Request, m.CookieName)
	if token == "" || m.Service == nil {
		c.Next()
		return
	}
	resolved, err := m.Service.ResolveToken(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, domainauth.ErrSessionNotFound) && m.Logger != nil {
			m.Logger.Debug("token validation failed", "error", err)
		}
		c.Next()
		return
	}
	setPrincipal(c, principal{ID: string(resolved.User.ID), Token: token})
	c.Next()
}

func setPrincipal(c *gin.Context, p principal) {
	c.Set(principalContextKey, p)
	c.Set("user_id", p.ID)
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return principal{}, false
	}
	p, ok := val.(principal)
	return p, ok
}

func requireUser(c *gin.Context) (principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return principal{}, false
	}
	return p, true
}

// credentialFromRequest prefers the session cookie over the Authorization header.
func credentialFromRequest(r *http.Request, cookieName string) string {
	if cookieName != "" {
		if cookie, err := r.Cookie(cookieName); err == nil {
			if token := strings.TrimSpace(cookie.Value); token != "" {
				return token
			}
		}
	}
	return extractBearerToken(r.Header.Get("Authorization"))
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// SessionAuthenticator lets the realtime gateway resolve the same credentials
// as the REST API.
type SessionAuthenticator struct {
	Service *auth.Service
}

func (a SessionAuthenticator) Authenticate(ctx context.Context, token string) (string, error) {
	resolved, err := a.Service.ResolveToken(ctx, token)
	if err != nil {
		return "", err
	}
	return string(resolved.User.ID), nil
}

var _ realtime.Authenticator = SessionAuthenticator{}
