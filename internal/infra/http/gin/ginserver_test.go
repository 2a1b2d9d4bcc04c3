package ginserver

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	gin "github.com/gin-gonic/gin"

	"chatline/internal/app/commands"
	"chatline/internal/domain/shared/errkind"
	"chatline/internal/infra/config"
	"chatline/internal/infra/obs"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errkind.New(errkind.ErrValidation, "bad"), http.StatusBadRequest},
		{errkind.New(errkind.ErrUnauthenticated, "who"), http.StatusUnauthorized},
		{fmt.Errorf("wrapped: %w", errkind.New(errkind.ErrForbidden, "no")), http.StatusForbidden},
		{errkind.New(errkind.ErrNotFound, "gone"), http.StatusNotFound},
		{errkind.New(errkind.ErrConflict, "dup"), http.StatusConflict},
		{fmt.Errorf("%w: x", commands.ErrHandlerNotFound), http.StatusNotImplemented},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestCredentialFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	if got := credentialFromRequest(req, "sid"); got != "header-token" {
		t.Fatalf("bearer = %q", got)
	}
	req.AddCookie(&http.Cookie{Name: "sid", Value: "cookie-token"})
	if got := credentialFromRequest(req, "sid"); got != "cookie-token" {
		t.Fatalf("cookie should win, got %q", got)
	}
	if got := extractBearerToken("Basic abc"); got != "" {
		t.Fatalf("basic auth = %q", got)
	}
}

func TestProtectedRoutesRequireUser(t *testing.T) {
	router := NewRouter(config.Config{Env: "test"}, obs.Middleware{}, obs.HealthHandlers{}, Handlers{
		Conversations: ConversationHandler{},
		Presence:      &PresenceHandler{},
		Attachments:   &AttachmentHandler{},
	})
	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/conversations"},
		{http.MethodGet, "/api/v1/users/online"},
		{http.MethodPost, "/api/v1/attachments"},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(route.method, route.path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s = %d", route.method, route.path, rec.Code)
		}
	}
}

func TestAttachmentsUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		setPrincipal(c, principal{ID: "alice"})
		c.Next()
	})
	router.POST("/upload", AttachmentHandler{}.Upload)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/upload", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}
