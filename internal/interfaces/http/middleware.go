package http

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

// Middleware verifies console tokens. Tokens are issued by the auth service;
// this process only checks them.
type Middleware struct {
	jwtSecret    []byte
	rateLimiters map[string]*rate.Limiter
	mu           sync.Mutex
}

func NewMiddleware(secret string) *Middleware {
	return &Middleware{
		jwtSecret:    []byte(secret),
		rateLimiters: make(map[string]*rate.Limiter),
	}
}

func (m *Middleware) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.jwtSecret, nil
		})

		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			c.Set("user_id", userKey(claims))
			c.Set("role", claims["role"])
		}

		c.Next()
	}
}

// userKey prefers the numeric user_id claim and falls back to sub.
func userKey(claims jwt.MapClaims) string {
	switch v := claims["user_id"].(type) {
	case float64:
		return fmt.Sprintf("%.0f", v) // JWT numbers are float64 by default
	case string:
		if v != "" {
			return v
		}
	}
	if sub, err := claims.GetSubject(); err == nil {
		return sub
	}
	return ""
}

// RateLimitPerUser throttles each operator separately. Must follow AuthRequired.
func (m *Middleware) RateLimitPerUser(r rate.Limit, b int) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString("user_id")
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token carries no user identity", "code": "unauthorized"})
			return
		}
		if !m.limiterFor(key, r, b).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests", "code": "rate_limited"})
			return
		}
		c.Next()
	}
}

func (m *Middleware) limiterFor(key string, r rate.Limit, b int) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rateLimiters[key]
	if !ok {
		l = rate.NewLimiter(r, b)
		m.rateLimiters[key] = l
	}
	return l
}

// CORSMiddleware allows Cross-Origin requests
func (m *Middleware) CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// SecurityHeaders adds the usual hardening headers
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		c.Writer.Header().Set("X-Frame-Options", "DENY")
		c.Writer.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// RequestSizeLimiter caps the request body
func RequestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
