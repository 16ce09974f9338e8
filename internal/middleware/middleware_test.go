package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/playtest-sessions/internal/authz"
	"github.com/iliyamo/playtest-sessions/internal/config"
	"github.com/iliyamo/playtest-sessions/internal/utils"
)

const secret = "test-secret"

func bearer(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, sub, role, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return "Bearer " + tok.Token
}

func newEcho(t *testing.T) *echo.Echo {
	t.Helper()
	enf, err := authz.New()
	if err != nil {
		t.Fatalf("authz: %v", err)
	}
	e := echo.New()
	g := e.Group("/v1", JWTAuth(secret), Authorize(enf))
	g.POST("/sessions/:id/join", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"participant": ParticipantID(c), "role": Role(c)})
	})
	g.POST("/sessions", func(c echo.Context) error { return c.NoContent(http.StatusCreated) })
	return e
}

func do(e *echo.Echo, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := newEcho(t)

	if rec := do(e, http.MethodPost, "/v1/sessions/s1/join", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: want 401, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/v1/sessions/s1/join", "Bearer nonsense"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: want 401, got %d", rec.Code)
	}
	other, _ := utils.NewAccessToken("other-secret", "t1", "tester", time.Hour)
	if rec := do(e, http.MethodPost, "/v1/sessions/s1/join", "Bearer "+other.Token); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: want 401, got %d", rec.Code)
	}

	rec := do(e, http.MethodPost, "/v1/sessions/s1/join", bearer(t, "t1", "Tester"))
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: want 200, got %d %s", rec.Code, rec.Body)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"participant":"t1"`) || !strings.Contains(body, `"role":"tester"`) {
		t.Fatalf("claims not propagated: %s", body)
	}
}

func TestAuthorize(t *testing.T) {
	e := newEcho(t)
	if rec := do(e, http.MethodPost, "/v1/sessions", bearer(t, "t1", "tester")); rec.Code != http.StatusForbidden {
		t.Fatalf("tester creating session: want 403, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/v1/sessions", bearer(t, "m1", "manager")); rec.Code != http.StatusCreated {
		t.Fatalf("manager creating session: want 201, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/v1/sessions/s1/join", bearer(t, "x", "")); rec.Code != http.StatusForbidden {
		t.Fatalf("roleless join: want 403, got %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		JWTAuth(secret), RequireRole(authz.RoleAdmin))
	if rec := do(e, http.MethodGet, "/x", bearer(t, "u", "tester")); rec.Code != http.StatusForbidden {
		t.Fatalf("want 403, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/x", bearer(t, "u", "admin")); rec.Code != http.StatusNoContent {
		t.Fatalf("want 204, got %d", rec.Code)
	}
}

func TestTokenBucketLocalFallback(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            time.Hour,
		KeyStrategy:    "ip",
		Prefix:         "rl",
	}
	e := echo.New()
	e.Use(NewTokenBucket(cfg, nil))
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	for i := 0; i < 2; i++ {
		if rec := do(e, http.MethodGet, "/ping", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: want 200, got %d", i, rec.Code)
		}
	}
	rec := do(e, http.MethodGet, "/ping", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: want 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}

func TestTokenBucketDisabled(t *testing.T) {
	e := echo.New()
	e.Use(NewTokenBucket(config.RateLimitConfig{Enabled: false}, nil))
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	for i := 0; i < 5; i++ {
		if rec := do(e, http.MethodGet, "/ping", ""); rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
	}
}

func TestCachePassThroughWithoutRedis(t *testing.T) {
	cfg := config.CacheConfig{Enabled: true, Methods: []string{"GET"}, TTL: time.Minute, Prefix: "cache"}
	e := echo.New()
	e.GET("/v1/locations", func(c echo.Context) error { return c.JSON(http.StatusOK, echo.Map{"ok": true}) },
		NewRedisCache(cfg, nil))
	rec := do(e, http.MethodGet, "/v1/locations", "")
	if rec.Code != http.StatusOK || rec.Header().Get("X-Cache") != "" {
		t.Fatalf("unexpected cache behaviour: %d %q", rec.Code, rec.Header().Get("X-Cache"))
	}
	CachePurger(cfg, nil)(t.Context())
}

func TestPayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	status, got, body, ok := decodePayload(bs)
	if !ok || status != http.StatusOK || got.Get("Content-Type") != "application/json" || string(body) != `{"a":1}` {
		t.Fatalf("decode mismatch: %v %d %v %q", ok, status, got, body)
	}
	if _, _, _, ok := decodePayload([]byte{0, 1}); ok {
		t.Fatal("short payload accepted")
	}
}

func TestCacheKeyDistinguishesResources(t *testing.T) {
	cfg := config.CacheConfig{Prefix: "cache", KeyStrategy: "route_query"}
	e := echo.New()
	key := func(path string) string {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, path, nil), httptest.NewRecorder())
		c.SetPath("/v1/locations/:id")
		return cacheKeyFrom(cfg, c)
	}
	if key("/v1/locations/a") == key("/v1/locations/b") {
		t.Fatal("different locations share a cache key")
	}
	if key("/v1/locations/a") != key("/v1/locations/a") {
		t.Fatal("cache key is not stable")
	}
}
