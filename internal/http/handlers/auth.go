package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"github.com/mwaller89/accounthub/internal/auth"
	"github.com/mwaller89/accounthub/internal/config"
	"github.com/mwaller89/accounthub/internal/domain/user"
	"github.com/mwaller89/accounthub/internal/repo/postgres"
	"github.com/mwaller89/accounthub/internal/security"
)

type UserReader interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
}

type RefreshTokenStore interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, tx pgx.Tx, row postgres.RefreshTokenRow) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (postgres.RefreshTokenRow, error)
	Revoke(ctx context.Context, tx pgx.Tx, id string, replacedBy *string) error
	RevokeAllForUser(ctx context.Context, tx pgx.Tx, userID int64) error
}

// AuthHandler owns the JWT lifecycle: issuance, refresh rotation, stateless
// verification and logout revocation.
type AuthHandler struct {
	users        UserReader
	jwt          *auth.Manager
	refreshStore RefreshTokenStore
	cfg          config.Config
}

func NewAuthHandler(users UserReader, jwtManager *auth.Manager, refreshStore RefreshTokenStore, cfg config.Config) *AuthHandler {
	return &AuthHandler{
		users:        users,
		jwt:          jwtManager,
		refreshStore: refreshStore,
		cfg:          cfg,
	}
}

type CreateTokenRequest struct {
	Email    string `json:"email" form:"email" binding:"required,email"`
	Password string `json:"password" form:"password" binding:"required"`
}

type RefreshTokenRequest struct {
	Refresh string `json:"refresh" form:"refresh"`
}

type VerifyTokenRequest struct {
	Token string `json:"token" form:"token"`
}

// Create implements POST /api/jwt/create/.
func (h *AuthHandler) Create(ctx *gin.Context) {
	var req CreateTokenRequest

	if !Bind(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	foundUser, err := h.users.GetByEmail(cctx, req.Email)
	if err != nil {
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	// inactive accounts look exactly like bad credentials
	if !foundUser.IsActive {
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	err = security.CheckPassword(foundUser.PasswordHash, req.Password)

	if err != nil {
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	access, refresh, err := h.IssueTokenPair(cctx, foundUser)

	if err != nil {
		RespondInternal(ctx, "Could not create session")
		return
	}

	h.SetAuthCookies(ctx, access, refresh)

	ctx.JSON(http.StatusOK, gin.H{
		"access":  access,
		"refresh": refresh,
	})
}

// Refresh implements POST /api/jwt/refresh/. The refresh token comes from the
// body or, failing that, the refresh cookie.
func (h *AuthHandler) Refresh(ctx *gin.Context) {
	var req RefreshTokenRequest

	// cookie-only clients send no body at all
	if ctx.Request.ContentLength > 0 && !Bind(ctx, &req) {
		return
	}

	raw := req.Refresh

	if raw == "" {
		raw, _ = ctx.Cookie("refresh")
	}

	if raw == "" {
		RespondUnAuthorized(ctx, "invalid_token", "Missing refresh token")
		return
	}

	claims, err := h.jwt.VerifyRefreshToken(raw)

	if err != nil {
		RespondUnAuthorized(ctx, "invalid_token", "Invalid refresh token")
		return
	}

	// rotation under a row lock so a replayed token cannot fork the session

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	tx, err := h.refreshStore.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	row, err := h.refreshStore.GetForUpdate(cctx, tx, claims.JTI)

	if err != nil {
		RespondUnAuthorized(ctx, "invalid_token", "Invalid refresh token")
		return
	}

	if row.RevokedAt != nil {
		RespondUnAuthorized(ctx, "invalid_token", "Invalid refresh token")
		return
	}

	if time.Now().UTC().After(row.ExpiresAt) {
		RespondUnAuthorized(ctx, "expired_token", "Refresh token expired.")
		return
	}

	// verify hash matches the presented token (prevents token substitution)

	if row.TokenHash != h.jwt.HashRefreshToken(raw) {
		RespondUnAuthorized(ctx, "invalid_token", "Invalid refresh token")
		return
	}

	newRaw, newJTI, newExpiresAt, err := h.jwt.GenerateRefreshToken(row.UserID, claims.Email, claims.Role)
	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	// revoke old, insert new

	if err := h.refreshStore.Revoke(cctx, tx, row.ID, &newJTI); err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	newRow := postgres.RefreshTokenRow{
		ID:        newJTI,
		UserID:    row.UserID,
		TokenHash: h.jwt.HashRefreshToken(newRaw),
		ExpiresAt: newExpiresAt,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.refreshStore.Create(cctx, tx, newRow); err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	// mint the access token before committing; a failure here must roll the
	// rotation back so the presented refresh token stays usable
	access, err := h.jwt.GenerateAccessToken(row.UserID, claims.Email, claims.Role)
	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	if err := tx.Commit(cctx); err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	h.SetAuthCookies(ctx, access, newRaw)

	ctx.JSON(http.StatusOK, gin.H{
		"access": access,
	})
}

// Verify implements POST /api/jwt/verify/: a pure signature + expiry check.
// It deliberately does not care whether the token is access or refresh.
func (h *AuthHandler) Verify(ctx *gin.Context) {
	var req VerifyTokenRequest

	if ctx.Request.ContentLength > 0 && !Bind(ctx, &req) {
		return
	}

	raw := req.Token

	if raw == "" {
		raw, _ = ctx.Cookie("access")
	}

	if raw == "" {
		RespondUnAuthorized(ctx, "invalid_token", "Missing token")
		return
	}

	if _, err := h.jwt.ParseAndValidate(raw); err != nil {
		if err == auth.ErrTokenExpired {
			RespondUnAuthorized(ctx, "expired_token", "Token expired")
			return
		}
		RespondUnAuthorized(ctx, "invalid_token", "Invalid token")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{})
}

// Logout implements POST /api/logout/: the presented refresh token is revoked
// server-side and both auth cookies are cleared. Always 204; logging out with
// a dead session is not an error.
func (h *AuthHandler) Logout(ctx *gin.Context) {
	var req RefreshTokenRequest

	// body is optional here
	_ = ctx.ShouldBind(&req)

	raw := req.Refresh

	if raw == "" {
		raw, _ = ctx.Cookie("refresh")
	}

	if raw == "" {
		h.ClearAuthCookies(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}

	claims, err := h.jwt.VerifyRefreshToken(raw)
	if err != nil {
		h.ClearAuthCookies(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	tx, err := h.refreshStore.BeginTx(cctx)
	if err != nil {
		h.ClearAuthCookies(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}
	defer func() { _ = tx.Rollback(cctx) }()

	// revoke that one token (idempotent)
	_ = h.refreshStore.Revoke(cctx, tx, claims.JTI, nil)
	_ = tx.Commit(cctx)

	h.ClearAuthCookies(ctx)
	ctx.Status(http.StatusNoContent)
}

// IssueTokenPair mints an access/refresh pair and persists the refresh hash.
// Shared with the OAuth exchange handler.
func (h *AuthHandler) IssueTokenPair(ctx context.Context, u user.User) (access, refresh string, err error) {
	access, err = h.jwt.GenerateAccessToken(u.ID, u.Email, u.Role)

	if err != nil {
		return "", "", err
	}

	rawRefresh, jti, expiresAt, err := h.jwt.GenerateRefreshToken(u.ID, u.Email, u.Role)

	if err != nil {
		return "", "", err
	}

	tx, err := h.refreshStore.BeginTx(ctx)

	if err != nil {
		return "", "", err
	}

	defer func() { _ = tx.Rollback(ctx) }()

	row := postgres.RefreshTokenRow{
		ID:        jti,
		UserID:    u.ID,
		TokenHash: h.jwt.HashRefreshToken(rawRefresh),
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.refreshStore.Create(ctx, tx, row); err != nil {
		return "", "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", "", err
	}

	return access, rawRefresh, nil
}

// Cookie helpers. Tokens also travel as HttpOnly cookies for browser clients
// that cannot hold them safely in script-visible storage.

func (h *AuthHandler) SetAuthCookies(ctx *gin.Context, access, refresh string) {
	secure := h.cfg.Env == "prod"

	ctx.SetSameSite(http.SameSiteLaxMode)

	ctx.SetCookie("access", access, int(h.jwt.AccessTTL().Seconds()), "/", "", secure, true)
	ctx.SetCookie("refresh", refresh, int(h.jwt.RefreshTTL().Seconds()), "/", "", secure, true)
}

func (h *AuthHandler) ClearAuthCookies(ctx *gin.Context) {
	secure := h.cfg.Env == "prod"

	ctx.SetSameSite(http.SameSiteLaxMode)

	ctx.SetCookie("access", "", -1, "/", "", secure, true)
	ctx.SetCookie("refresh", "", -1, "/", "", secure, true)
}
