// README: Tests for auth, role gating, rate limiting and panic recovery middleware.
package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tourdispatch/internal/http/middleware"
	"tourdispatch/internal/infra"
)

type stubVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

func callerEcho(verifier infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(verifier))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"uid": middleware.CallerUID(c), "role": middleware.CallerRole(c)})
	})
	return r
}

func TestAuth(t *testing.T) {
	dispatcher := &stubVerifier{token: &infra.FirebaseToken{UID: "disp-1", Claims: map[string]interface{}{"role": "dispatcher"}}}
	noRole := &stubVerifier{token: &infra.FirebaseToken{UID: "drv-9", Claims: map[string]interface{}{}}}

	cases := []struct {
		name     string
		verifier *stubVerifier
		header   string
		want     int
		wantUID  string
		wantRole string
	}{
		{name: "no header", verifier: dispatcher, want: http.StatusUnauthorized},
		{name: "wrong scheme", verifier: dispatcher, header: "Basic abc", want: http.StatusUnauthorized},
		{name: "empty bearer", verifier: dispatcher, header: "Bearer   ", want: http.StatusUnauthorized},
		{name: "rejected token", verifier: &stubVerifier{err: errors.New("expired")}, header: "Bearer tok", want: http.StatusUnauthorized},
		{name: "role claim", verifier: dispatcher, header: "Bearer tok", want: http.StatusOK, wantUID: "disp-1", wantRole: "dispatcher"},
		{name: "no role claim", verifier: noRole, header: "Bearer tok", want: http.StatusOK, wantUID: "drv-9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			callerEcho(tc.verifier).ServeHTTP(w, req)

			require.Equal(t, tc.want, w.Code)
			if tc.want != http.StatusOK {
				return
			}
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.wantUID, body["uid"])
			assert.Equal(t, tc.wantRole, body["role"])
		})
	}
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		role string
		want int
	}{
		{"dispatcher", http.StatusOK},
		{"admin", http.StatusOK},
		{"driver", http.StatusForbidden},
		{"", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.role, func(t *testing.T) {
			claims := map[string]interface{}{}
			if tc.role != "" {
				claims["role"] = tc.role
			}
			r := gin.New()
			r.Use(middleware.Auth(&stubVerifier{token: &infra.FirebaseToken{UID: "u", Claims: claims}}))
			r.GET("/staff", middleware.RequireRole(middleware.RoleDispatcher, middleware.RoleAdmin), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})
			req := httptest.NewRequest(http.MethodGet, "/staff", nil)
			req.Header.Set("Authorization", "Bearer t")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Errorf("role %q: expected %d, got %d", tc.role, tc.want, w.Code)
			}
		})
	}
}

func TestRateLimit_PerCaller(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request.Header.Set("Authorization", "Bearer "+c.Query("uid"))
		c.Next()
	})
	r.Use(middleware.Auth(infra.StaticVerifier{Role: "driver"}))
	r.Use(middleware.RateLimit(0.001, 2))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(uid string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping?uid="+uid, nil))
		return w.Code
	}
	for i := 0; i < 2; i++ {
		if code := call("a"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := call("a"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after burst, got %d", code)
	}
	if code := call("b"); code != http.StatusOK {
		t.Errorf("other callers keep their own bucket, got %d", code)
	}
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Recovery(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}
