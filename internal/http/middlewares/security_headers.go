package middlewares

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// the API only ever serves JSON, so nothing may load anything
	apiCSP = "default-src 'none'; frame-ancestors 'none'"

	// the docs page pulls Swagger UI assets from the unpkg CDN and runs an
	// inline bootstrap script
	docsCSP = "default-src 'self'; base-uri 'none'; frame-ancestors 'none'; object-src 'none'; connect-src 'self'; img-src 'self' data: https:; font-src 'self' https://unpkg.com data:; style-src 'self' 'unsafe-inline' https://unpkg.com; script-src 'self' 'unsafe-inline' https://unpkg.com"
)

func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("X-XSS-Protection", "0")

		csp := apiCSP

		if strings.HasPrefix(c.Request.URL.Path, "/docs") {
			csp = docsCSP
		}

		c.Header("Content-Security-Policy", csp)

		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
