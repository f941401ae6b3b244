package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RespondJSONWithETag writes the payload with a strong validator so profile
// pollers (dashboards re-fetching /users/me/) can hit 304 instead of
// re-downloading an unchanged user.
func RespondJSONWithETag(ctx *gin.Context, status int, payload interface{}) {
	etag, ok := userETag(payload)

	if !ok {
		ctx.JSON(status, payload)
		return
	}

	ctx.Header("ETag", etag)

	if clientHasCurrent(ctx.GetHeader("If-None-Match"), etag) {
		ctx.Status(http.StatusNotModified)
		return
	}

	ctx.JSON(status, payload)
}

// userETag derives the validator from the serialized body, so it changes
// exactly when the JSON representation does (updated_at included).
func userETag(payload interface{}) (string, bool) {
	b, err := json.Marshal(payload)

	if err != nil {
		return "", false
	}

	sum := sha256.Sum256(b)

	return `"` + hex.EncodeToString(sum[:16]) + `"`, true
}

func clientHasCurrent(ifNoneMatch, current string) bool {
	ifNoneMatch = strings.TrimSpace(ifNoneMatch)

	if ifNoneMatch == "" {
		return false
	}

	if ifNoneMatch == "*" {
		return true
	}

	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)

		// weak validators compare equal to their strong form here
		candidate = strings.TrimPrefix(candidate, "W/")

		if strings.TrimSpace(candidate) == current {
			return true
		}
	}

	return false
}
