package middleware

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS allows every origin outside production. In production only the
// comma separated allowlist is accepted, and an empty list denies all.
func CORS(allowedOrigins string, production bool) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Authorization", "Content-Type", RequestIDHeader}
	cfg.ExposeHeaders = []string{RequestIDHeader, "Content-Disposition"}
	cfg.MaxAge = 12 * time.Hour

	origins := splitAndTrim(allowedOrigins)
	switch {
	case len(origins) > 0:
		cfg.AllowOrigins = origins
	case production:
		cfg.AllowOriginFunc = func(string) bool { return false }
	default:
		cfg.AllowAllOrigins = true
	}
	return cors.New(cfg)
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
