package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PolicyHandler serves the static legal pages some OAuth providers require
// before approving an app review.
type PolicyHandler struct{}

func NewPolicyHandler() *PolicyHandler {
	return &PolicyHandler{}
}

func (h *PolicyHandler) PrivacyPolicy(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"message": "We collect only the data needed to operate your account: email, name, and authentication records. We never sell personal data.",
	})
}

func (h *PolicyHandler) TermsOfService(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"message": "By using this service you agree to keep your credentials confidential and to use the API within its published rate limits.",
	})
}

func (h *PolicyHandler) DataDeletionPolicy(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"message": "You can delete your account at any time via DELETE /api/users/me/. All personal data is removed immediately and irreversibly.",
	})
}
