package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Write endpoints accept JSON, urlencoded forms and multipart uploads.
var allowedContentTypes = []string{
	"application/json",
	"application/x-www-form-urlencoded",
	"multipart/form-data",
}

func RequireKnownContentType() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			ct := strings.ToLower(c.GetHeader("Content-Type"))

			// bodyless POSTs (e.g. logout) are fine
			if ct == "" && c.Request.ContentLength == 0 {
				break
			}

			ok := false
			for _, allowed := range allowedContentTypes {
				// allow parameters like "; charset=utf-8" or "; boundary=..."
				if strings.HasPrefix(ct, allowed) {
					ok = true
					break
				}
			}

			if !ok {
				c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{
					"error": gin.H{
						"code":    "unsupported_media_type",
						"message": "Content-Type must be application/json, application/x-www-form-urlencoded or multipart/form-data",
					},
				})
				return
			}
		}
		c.Next()
	}
}
