package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"arcane-scribe/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type staticValidator map[string]string

func (v staticValidator) Validate(ctx context.Context, token string) (*auth.Claims, error) {
	owner, ok := v[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{UserID: owner}, nil
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	handlers = append(handlers, func(c *gin.Context) {
		c.String(http.StatusOK, GetOwnerID(c))
	})
	r.POST("/x", handlers...)
	return r
}

func TestRequireAuth(t *testing.T) {
	r := newRouter(NewAuthMiddleware(staticValidator{"good": "u1"}).RequireAuth())

	cases := map[string]struct {
		header string
		cookie string
		status int
		body   string
	}{
		"bearer":       {header: "Bearer good", status: http.StatusOK, body: "u1"},
		"cookie":       {cookie: "good", status: http.StatusOK, body: "u1"},
		"missing":      {status: http.StatusUnauthorized, body: "Authentication token is required"},
		"invalid":      {header: "Bearer bad", status: http.StatusUnauthorized, body: "session_expired"},
		"wrong scheme": {header: "Basic good", status: http.StatusUnauthorized},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/x", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "access_token", Value: tc.cookie})
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tc.status, w.Code)
			assert.Contains(t, w.Body.String(), tc.body)
			assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
		})
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	r := newRouter()
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}

func TestRequestSizeLimit(t *testing.T) {
	r := newRouter(RequestSizeLimit(8))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "request_too_large")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, w.Code)
}
