package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestKeyByIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = req

	if key := KeyByIP()(c); key != "ip:203.0.113.9" {
		t.Fatalf("key = %q", key)
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(2, 0, nil)
	if rl.burst != 1 {
		t.Fatalf("burst = %d, want 1", rl.burst)
	}
	if rl.keyFn == nil {
		t.Fatal("nil key func must default to KeyByIP")
	}
	if lim := rl.limiterFor("a"); lim != rl.limiterFor("a") {
		t.Fatal("bucket not reused for the same key")
	}
}

func TestRateLimiter_SweepsIdleBuckets(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1, KeyByIP())
	rl.now = func() time.Time { return now }

	first := rl.limiterFor("stale")
	rl.limiterFor("fresh")

	now = now.Add(idleBucketTTL / 2)
	rl.limiterFor("fresh")

	now = now.Add(idleBucketTTL)
	rl.limiterFor("other")

	rl.mu.Lock()
	_, hasStale := rl.buckets["stale"]
	_, hasFresh := rl.buckets["fresh"]
	rl.mu.Unlock()
	if hasStale || hasFresh {
		t.Fatalf("idle buckets survived the sweep: stale=%v fresh=%v", hasStale, hasFresh)
	}
	if rl.limiterFor("stale") == first {
		t.Fatal("swept key must get a new bucket")
	}
}

func TestRateLimiter_RetryAfter(t *testing.T) {
	cases := []struct {
		rps  float64
		want string
	}{
		{10, "1"},
		{1, "1"},
		{0.2, "5"},
		{0, "60"},
	}
	for _, c := range cases {
		if got := NewRateLimiter(c.rps, 1, nil).retryAfter(); got != c.want {
			t.Fatalf("rps %v: Retry-After = %q, want %q", c.rps, got, c.want)
		}
	}
}

func TestIsRateBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if IsRateBypass(c) {
		t.Fatal("bypass must default to false")
	}
	c.Set(ctxKeyRateBypass, true)
	if !IsRateBypass(c) {
		t.Fatal("bypass not read back")
	}
	c.Set(ctxKeyRateBypass, "yes")
	if IsRateBypass(c) {
		t.Fatal("non-bool value must read as false")
	}
}

func TestRateLimiter_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(0.5, 1, KeyByIP())

	r := gin.New()
	r.Use(RequestID(), SecretValidator("s3cret"), rl.Handler())
	r.POST("/webhooks/telegram", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	send := func(query string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram"+query, nil)
		req.Header.Set("X-Request-ID", "rid-429")
		r.ServeHTTP(w, req)
		return w
	}

	before := testutil.ToFloat64(rateLimited.WithLabelValues("/webhooks/telegram"))

	if w := send(""); w.Code != http.StatusOK {
		t.Fatalf("first request: %d", w.Code)
	}
	w := send("")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q", got)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if body["code"] != "too_many_requests" || body["request_id"] != "rid-429" {
		t.Fatalf("body = %v", body)
	}
	if got := testutil.ToFloat64(rateLimited.WithLabelValues("/webhooks/telegram")) - before; got != 1 {
		t.Fatalf("rate_limited delta = %v", got)
	}

	if w := send("?secret=s3cret"); w.Code != http.StatusOK {
		t.Fatalf("authenticated request must bypass, got %d", w.Code)
	}
	if w := send("?secret=wrong"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("wrong secret must not bypass, got %d", w.Code)
	}
}
