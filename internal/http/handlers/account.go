package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mwaller89/accounthub/internal/config"
	"github.com/mwaller89/accounthub/internal/domain/user"
	"github.com/mwaller89/accounthub/internal/http/middlewares"
	"github.com/mwaller89/accounthub/internal/jobs"
	"github.com/mwaller89/accounthub/internal/security"
	"github.com/mwaller89/accounthub/internal/tokens"
)

// AccountHandler owns the token-gated account flows: activation, password
// reset, email reset, and the authenticated set_password / set_email pair.
type AccountHandler struct {
	repo         UsersRepository
	tokens       TokenIssuer
	queue        MailEnqueuer
	refreshStore RefreshTokenStore
	users        *UsersHandler
}

func NewAccountHandler(repo UsersRepository, tokenStore TokenIssuer, queue MailEnqueuer, refreshStore RefreshTokenStore) *AccountHandler {
	return &AccountHandler{
		repo:         repo,
		tokens:       tokenStore,
		queue:        queue,
		refreshStore: refreshStore,
		users:        NewUsersHandler(repo, tokenStore, queue),
	}
}

type UIDTokenRequest struct {
	UID   string `json:"uid" form:"uid" binding:"required"`
	Token string `json:"token" form:"token" binding:"required"`
}

type EmailRequest struct {
	Email string `json:"email" form:"email" binding:"required,email"`
}

type ResetPasswordConfirmRequest struct {
	UID           string `json:"uid" form:"uid" binding:"required"`
	Token         string `json:"token" form:"token" binding:"required"`
	NewPassword   string `json:"new_password" form:"new_password" binding:"required,min=8"`
	ReNewPassword string `json:"re_new_password" form:"re_new_password" binding:"required"`
}

type ResetEmailConfirmRequest struct {
	UID      string `json:"uid" form:"uid" binding:"required"`
	Token    string `json:"token" form:"token" binding:"required"`
	NewEmail string `json:"new_email" form:"new_email" binding:"required,email,max=255"`
}

type SetPasswordRequest struct {
	CurrentPassword string `json:"current_password" form:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" form:"new_password" binding:"required,min=8"`
}

type SetEmailRequest struct {
	CurrentPassword string `json:"current_password" form:"current_password" binding:"required"`
	NewEmail        string `json:"new_email" form:"new_email" binding:"required,email,max=255"`
}

// Activate implements POST /api/users/activation/. The token is single-use,
// so replaying the same uid/token pair fails the second time.
func (h *AccountHandler) Activate(ctx *gin.Context) {
	var req UIDTokenRequest

	if !Bind(ctx, &req) {
		return
	}

	userID, ok := parseUID(req.UID)

	if !ok {
		RespondUnAuthorized(ctx, "invalid_token", "Invalid activation token")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	if err := h.tokens.Consume(cctx, tokens.PurposeActivation, userID, req.Token); err != nil {
		if errors.Is(err, tokens.ErrTokenInvalid) {
			RespondUnAuthorized(ctx, "invalid_token", "Invalid or expired activation token")
			return
		}

		RespondInternal(ctx, "Could not activate account")
		return
	}

	if err := h.repo.Activate(cctx, userID); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondUnAuthorized(ctx, "invalid_token", "Invalid or expired activation token")
			return
		}

		RespondInternal(ctx, "Could not activate account")
		return
	}

	ctx.Status(http.StatusNoContent)
}

// ResendActivation implements POST /api/users/resend_activation/. The
// response shape never reveals whether the email is registered.
func (h *AccountHandler) ResendActivation(ctx *gin.Context) {
	h.initiateTokenEmail(ctx, jobs.JobSendActivationEmail, tokens.PurposeActivation, func(u user.User) bool {
		return !u.IsActive
	})
}

// ResetPassword implements POST /api/users/reset_password/.
func (h *AccountHandler) ResetPassword(ctx *gin.Context) {
	h.initiateTokenEmail(ctx, jobs.JobSendPasswordResetEmail, tokens.PurposePasswordReset, func(u user.User) bool {
		return u.IsActive
	})
}

// ResetEmail implements POST /api/users/reset_email/.
func (h *AccountHandler) ResetEmail(ctx *gin.Context) {
	h.initiateTokenEmail(ctx, jobs.JobSendEmailResetEmail, tokens.PurposeEmailReset, func(u user.User) bool {
		return u.IsActive
	})
}

// ResetPasswordConfirm implements POST /api/users/reset_password_confirm/.
// All live sessions are revoked once the password changes.
func (h *AccountHandler) ResetPasswordConfirm(ctx *gin.Context) {
	var req ResetPasswordConfirmRequest

	if !Bind(ctx, &req) {
		return
	}

	if req.NewPassword != req.ReNewPassword {
		RespondBadRequest(ctx, "invalid_request", "Invalid request body", gin.H{
			"fields": []FieldError{{
				Field:   "re_new_password",
				Rule:    "eqfield",
				Message: "must match new_password",
			}},
		})
		return
	}

	userID, ok := parseUID(req.UID)

	if !ok {
		RespondUnAuthorized(ctx, "invalid_token", "Invalid reset token")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	if err := h.tokens.Consume(cctx, tokens.PurposePasswordReset, userID, req.Token); err != nil {
		if errors.Is(err, tokens.ErrTokenInvalid) {
			RespondUnAuthorized(ctx, "invalid_token", "Invalid or expired reset token")
			return
		}

		RespondInternal(ctx, "Could not reset password")
		return
	}

	hash, err := security.HashPassword(req.NewPassword)

	if err != nil {
		RespondInternal(ctx, "Could not reset password")
		return
	}

	if err := h.repo.UpdatePassword(cctx, userID, hash); err != nil {
		RespondInternal(ctx, "Could not reset password")
		return
	}

	h.revokeAllSessions(cctx, userID)

	ctx.Status(http.StatusNoContent)
}

// ResetEmailConfirm implements POST /api/users/reset_email_confirm/. This is
// the only path that changes an email address.
func (h *AccountHandler) ResetEmailConfirm(ctx *gin.Context) {
	var req ResetEmailConfirmRequest

	if !Bind(ctx, &req) {
		return
	}

	userID, ok := parseUID(req.UID)

	if !ok {
		RespondUnAuthorized(ctx, "invalid_token", "Invalid reset token")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	if err := h.tokens.Consume(cctx, tokens.PurposeEmailReset, userID, req.Token); err != nil {
		if errors.Is(err, tokens.ErrTokenInvalid) {
			RespondUnAuthorized(ctx, "invalid_token", "Invalid or expired reset token")
			return
		}

		RespondInternal(ctx, "Could not reset email")
		return
	}

	if err := h.repo.UpdateEmail(cctx, userID, req.NewEmail); err != nil {
		if errors.Is(err, user.ErrEmailAlreadyUsed) {
			RespondBadRequest(ctx, "email_taken", "Email is already in use.", nil)
			return
		}

		RespondInternal(ctx, "Could not reset email")
		return
	}

	ctx.Status(http.StatusNoContent)
}

// SetPassword implements POST /api/users/set_password/ for a live session.
func (h *AccountHandler) SetPassword(ctx *gin.Context) {
	var req SetPasswordRequest

	if !Bind(ctx, &req) {
		return
	}

	u, ok := h.requireCurrentPassword(ctx, req.CurrentPassword)

	if !ok {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	hash, err := security.HashPassword(req.NewPassword)

	if err != nil {
		RespondInternal(ctx, "Could not change password")
		return
	}

	if err := h.repo.UpdatePassword(cctx, u.ID, hash); err != nil {
		RespondInternal(ctx, "Could not change password")
		return
	}

	ctx.Status(http.StatusNoContent)
}

// SetEmail implements POST /api/users/set_email/ for a live session.
func (h *AccountHandler) SetEmail(ctx *gin.Context) {
	var req SetEmailRequest

	if !Bind(ctx, &req) {
		return
	}

	u, ok := h.requireCurrentPassword(ctx, req.CurrentPassword)

	if !ok {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	if err := h.repo.UpdateEmail(cctx, u.ID, req.NewEmail); err != nil {
		if errors.Is(err, user.ErrEmailAlreadyUsed) {
			RespondBadRequest(ctx, "email_taken", "Email is already in use.", nil)
			return
		}

		RespondInternal(ctx, "Could not change email")
		return
	}

	ctx.Status(http.StatusNoContent)
}

// initiateTokenEmail is the enumeration-safe initiator shared by the resend
// and reset endpoints: unknown or ineligible emails still get a 204.
func (h *AccountHandler) initiateTokenEmail(ctx *gin.Context, jobType jobs.JobType, purpose tokens.Purpose, eligible func(user.User) bool) {
	var req EmailRequest

	if !Bind(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	u, err := h.repo.GetByEmail(cctx, req.Email)

	if err == nil && eligible(u) {
		// a failed enqueue must not leak account existence either
		_ = h.users.enqueueTokenEmail(cctx, jobType, purpose, u)
	}

	ctx.Status(http.StatusNoContent)
}

func (h *AccountHandler) requireCurrentPassword(ctx *gin.Context, currentPassword string) (user.User, bool) {
	callerID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || callerID <= 0 {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return user.User{}, false
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	u, err := h.repo.GetByID(cctx, callerID)

	if err != nil {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return user.User{}, false
	}

	if err := security.CheckPassword(u.PasswordHash, currentPassword); err != nil {
		RespondUnAuthorized(ctx, "invalid_credentials", "Current password is incorrect.")
		return user.User{}, false
	}

	return u, true
}

func (h *AccountHandler) revokeAllSessions(ctx context.Context, userID int64) {
	tx, err := h.refreshStore.BeginTx(ctx)

	if err != nil {
		return
	}

	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.refreshStore.RevokeAllForUser(ctx, tx, userID); err != nil {
		return
	}

	_ = tx.Commit(ctx)
}

func parseUID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)

	if err != nil || id <= 0 {
		return 0, false
	}

	return id, true
}
