// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements shared-secret authentication for webhook and operator
// routes. SecretValidator runs globally and only marks the request:
//
//   - IsAuthenticated reports whether ?secret= matched
//   - authenticated callers bypass the rate limiter (chat and database
//     webhooks arrive in bursts from a few addresses)
//
// RequireSecret enforces the mark on protected groups and rejects everything
// else with 405 before any handler runs.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SecretQueryParam carries the shared webhook secret.
const SecretQueryParam = "secret"

const (
	ctxKeyAuthenticated = "auth.ok"
	ctxKeyRateBypass    = "rate.bypass"
)

// SecretValidator marks requests that present the shared secret. An empty
// secret authenticates nothing.
func SecretValidator(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		got := c.Query(SecretQueryParam)
		if len(want) > 0 && got != "" && subtle.ConstantTimeCompare([]byte(got), want) == 1 {
			c.Set(ctxKeyAuthenticated, true)
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	}
}

// IsAuthenticated reports whether SecretValidator accepted the request.
func IsAuthenticated(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyAuthenticated)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// RequireSecret aborts unauthenticated requests with
// 405 {"code":"not_allowed","message":"not allowed"}.
func RequireSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsAuthenticated(c) {
			c.Next()
			return
		}
		LoggerFrom(c).Warn().Str("remote_ip", c.ClientIP()).Msg("rejected: missing or wrong secret")
		c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{
			"request_id": RequestIDFrom(c),
			"code":       "not_allowed",
			"message":    "not allowed",
		})
	}
}
