package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxBodyBytes caps request bodies. Every write endpoint here carries at
// most a handful of short fields, so the limit can be aggressive; an
// oversized body surfaces as a bind error downstream.
func MaxBodyBytes(maxBytes int64) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.Request.Body != nil {
			ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxBytes)
		}

		ctx.Next()
	}
}
