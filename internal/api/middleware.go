package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// per-IP limiters; entries are evicted after an hour of inactivity
var (
	ipLimiters   = make(map[string]*rate.Limiter)
	ipLastSeen   = make(map[string]time.Time)
	ipLimitersMu sync.RWMutex
)

func init() {
	go func() {
		for {
			time.Sleep(10 * time.Minute)
			ipLimitersMu.Lock()
			cutoff := time.Now().Add(-1 * time.Hour)
			for ip, seen := range ipLastSeen {
				if seen.Before(cutoff) {
					delete(ipLimiters, ip)
					delete(ipLastSeen, ip)
				}
			}
			ipLimitersMu.Unlock()
		}
	}()
}

func getIPLimiter(ip string) *rate.Limiter {
	ipLimitersMu.Lock()
	defer ipLimitersMu.Unlock()

	limiter, ok := ipLimiters[ip]
	if !ok {
		// 10 req/s, burst 30
		limiter = rate.NewLimiter(10, 30)
		ipLimiters[ip] = limiter
	}
	ipLastSeen[ip] = time.Now()
	return limiter
}

// RateLimitMiddleware rejects clients that exceed the per-IP budget.
func RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !getIPLimiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// CORSMiddleware allows the desktop frontend (served from a different
// origin during development) to reach the API.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware tags every request so log lines can be correlated.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// TimeoutMiddleware aborts handlers that run past the deadline.
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		finished := make(chan struct{})
		panicChan := make(chan any, 1)

		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicChan <- p
				}
			}()
			c.Next()
			close(finished)
		}()

		select {
		case p := <-panicChan:
			panic(p)
		case <-finished:
		case <-ctx.Done():
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{
				"error": "request timed out",
			})
		}
	}
}

// RequestLogger logs one line per request with latency and request id.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		requestID, _ := c.Get("request_id")
		id, _ := requestID.(string)
		if len(id) > 8 {
			id = id[:8]
		}
		log.Printf("[%s] %s %s -> %d (%v)",
			id, c.Request.Method, path, c.Writer.Status(), latency)
	}
}
