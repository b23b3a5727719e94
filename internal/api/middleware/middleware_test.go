package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bhandras/ussdpilot/internal/crypto"
	"github.com/bhandras/ussdpilot/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T, jwtManager *crypto.JWTManager) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(LoggingMiddleware())
	r.GET("/open", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/private", AuthMiddleware(jwtManager), func(c *gin.Context) {
		subject, _ := GetSubject(c)
		c.String(http.StatusOK, subject)
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	jwtManager, err := crypto.NewJWTManager("secret")
	require.NoError(t, err)
	token, err := jwtManager.CreateToken("console", "api", time.Hour)
	require.NoError(t, err)

	other, err := crypto.NewJWTManager("other")
	require.NoError(t, err)
	foreign, err := other.CreateToken("console", "api", time.Hour)
	require.NoError(t, err)

	r := newRouter(t, jwtManager)

	tests := []struct {
		name   string
		target string
		header string
		status int
		body   string
	}{
		{"missing", "/private", "", http.StatusUnauthorized, ""},
		{"malformed", "/private", "Token " + token, http.StatusUnauthorized, ""},
		{"foreign", "/private", "Bearer " + foreign, http.StatusUnauthorized, ""},
		{"header", "/private", "Bearer " + token, http.StatusOK, "console"},
		{"query", "/private?token=" + token, "", http.StatusOK, "console"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.target, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		require.Equal(t, tt.status, rec.Code, tt.name)
		if tt.body != "" {
			require.Equal(t, tt.body, rec.Body.String(), tt.name)
		}
	}
}

func TestLoggingMiddlewareHidesTokens(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetFlags(0)
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })

	jwtManager, err := crypto.NewJWTManager("secret")
	require.NoError(t, err)
	r := newRouter(t, jwtManager)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/private?token=abc.def", nil))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/open?x=1", nil))

	out := buf.String()
	require.NotContains(t, out, "abc.def")
	require.True(t, strings.Contains(out, "[GET] /open?x=1 - 200"), out)
}
