package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/snaredev/snare/config"
)

func authRouter(keys []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth(keys))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func get(r *gin.Engine, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_OpenAccessWithoutKeys(t *testing.T) {
	r := authRouter(nil)
	if w := get(r, "", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when no keys configured", w.Code)
	}
}

func TestAuth_MissingKey(t *testing.T) {
	r := authRouter([]string{"secret"})
	if w := get(r, "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuth_WrongKey(t *testing.T) {
	r := authRouter([]string{"secret"})
	if w := get(r, "X-API-Key", "guess"); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuth_HeaderStyles(t *testing.T) {
	r := authRouter([]string{"secret"})

	if w := get(r, "X-API-Key", "secret"); w.Code != http.StatusOK {
		t.Errorf("X-API-Key: status = %d, want 200", w.Code)
	}
	if w := get(r, "Authorization", "Bearer secret"); w.Code != http.StatusOK {
		t.Errorf("Bearer: status = %d, want 200", w.Code)
	}
}

func TestRateLimit_BurstThenDeny(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(config.APILimitConfig{RequestsPerSecond: 1, Burst: 2}))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for i := 0; i < 2; i++ {
		if w := get(r, "", ""); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, w.Code)
		}
	}
	if w := get(r, "", ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 after burst", w.Code)
	}
}

func TestRateLimit_IdentityIsolation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth([]string{"alpha", "beta"}))
	r.Use(RateLimit(config.APILimitConfig{RequestsPerSecond: 1, Burst: 1}))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	if w := get(r, "X-API-Key", "alpha"); w.Code != http.StatusOK {
		t.Fatalf("alpha first request: %d", w.Code)
	}
	if w := get(r, "X-API-Key", "alpha"); w.Code != http.StatusTooManyRequests {
		t.Errorf("alpha second request = %d, want 429", w.Code)
	}
	if w := get(r, "X-API-Key", "beta"); w.Code != http.StatusOK {
		t.Errorf("beta blocked by alpha's bucket: %d", w.Code)
	}
}
