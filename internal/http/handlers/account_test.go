package handlers_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mwaller89/accounthub/internal/domain/user"
	"github.com/mwaller89/accounthub/internal/http/handlers"
	"github.com/mwaller89/accounthub/internal/repo/postgres"
	"github.com/mwaller89/accounthub/internal/security"
	"github.com/mwaller89/accounthub/internal/tokens"
)

func rowForUser(userID int64) postgres.RefreshTokenRow {
	return postgres.RefreshTokenRow{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: "irrelevant",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
		CreatedAt: time.Now().UTC(),
	}
}

type accountFixture struct {
	router  *gin.Engine
	repo    *fakeUsersRepo
	tokens  *fakeTokenStore
	queue   *fakeQueue
	refresh *fakeRefreshStore
}

func newAccountFixture(callerID int64, callerRole string) *accountFixture {
	repo := newFakeUsersRepo()
	tokenStore := newFakeTokenStore()
	q := &fakeQueue{}
	refresh := newFakeRefreshStore()
	h := handlers.NewAccountHandler(repo, tokenStore, q, refresh)

	r := gin.New()
	r.POST("/api/users/activation/", h.Activate)
	r.POST("/api/users/resend_activation/", h.ResendActivation)
	r.POST("/api/users/reset_password/", h.ResetPassword)
	r.POST("/api/users/reset_password_confirm/", h.ResetPasswordConfirm)
	r.POST("/api/users/reset_email/", h.ResetEmail)
	r.POST("/api/users/reset_email_confirm/", h.ResetEmailConfirm)

	authed := r.Group("", asUser(callerID, callerRole))
	authed.POST("/api/users/set_password/", h.SetPassword)
	authed.POST("/api/users/set_email/", h.SetEmail)

	return &accountFixture{router: r, repo: repo, tokens: tokenStore, queue: q, refresh: refresh}
}

func (fx *accountFixture) addUser(t *testing.T, email string, active bool) user.User {
	t.Helper()

	hash, err := security.HashPassword("sup3r-secret")
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}

	return fx.repo.add(user.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Jane",
		LastName:     "Doe",
		IsActive:     active,
		Role:         user.RoleUser,
	})
}

func TestActivationIsSingleUse(t *testing.T) {
	fx := newAccountFixture(0, "")
	u := fx.addUser(t, "jane@example.com", false)

	token, err := fx.tokens.Issue(nil, tokens.PurposeActivation, u.ID)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	w := doJSON(fx.router, http.MethodPost, "/api/users/activation/",
		`{"uid":"1","token":"`+token+`"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	got, _ := fx.repo.GetByID(nil, u.ID)
	if !got.IsActive {
		t.Fatalf("account must be active after activation")
	}

	// replaying the exact same uid/token pair must fail
	replay := doJSON(fx.router, http.MethodPost, "/api/users/activation/",
		`{"uid":"1","token":"`+token+`"}`)
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("replay got status %d, want 401", replay.Code)
	}
}

func TestActivationRejectsWrongToken(t *testing.T) {
	fx := newAccountFixture(0, "")
	u := fx.addUser(t, "jane@example.com", false)

	if _, err := fx.tokens.Issue(nil, tokens.PurposeActivation, u.ID); err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	w := doJSON(fx.router, http.MethodPost, "/api/users/activation/",
		`{"uid":"1","token":"a-bad-guess"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", w.Code)
	}

	got, _ := fx.repo.GetByID(nil, u.ID)
	if got.IsActive {
		t.Fatalf("a wrong token must not activate the account")
	}
}

func TestResendActivationDoesNotLeakAccountExistence(t *testing.T) {
	fx := newAccountFixture(0, "")
	fx.addUser(t, "jane@example.com", false)

	known := doJSON(fx.router, http.MethodPost, "/api/users/resend_activation/",
		`{"email":"jane@example.com"}`)
	unknown := doJSON(fx.router, http.MethodPost, "/api/users/resend_activation/",
		`{"email":"nobody@example.com"}`)

	if known.Code != http.StatusNoContent || unknown.Code != http.StatusNoContent {
		t.Fatalf("got statuses %d and %d, want 204 for both", known.Code, unknown.Code)
	}
	if known.Body.String() != unknown.Body.String() {
		t.Fatalf("responses must be identical for known and unknown emails")
	}

	// but only the real account got an email
	if fx.queue.count() != 1 {
		t.Fatalf("expected exactly 1 queued email, got %d", fx.queue.count())
	}
}

func TestResendActivationSkipsActiveAccounts(t *testing.T) {
	fx := newAccountFixture(0, "")
	fx.addUser(t, "jane@example.com", true)

	w := doJSON(fx.router, http.MethodPost, "/api/users/resend_activation/",
		`{"email":"jane@example.com"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("got status %d, want 204", w.Code)
	}

	if fx.queue.count() != 0 {
		t.Fatalf("active accounts must not receive activation emails")
	}
}

func TestPasswordResetFlowRevokesSessions(t *testing.T) {
	fx := newAccountFixture(0, "")
	u := fx.addUser(t, "jane@example.com", true)

	// simulate a live session
	_ = fx.refresh.Create(nil, nil, rowForUser(u.ID))

	w := doJSON(fx.router, http.MethodPost, "/api/users/reset_password/",
		`{"email":"jane@example.com"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("initiate got status %d", w.Code)
	}

	token := fx.tokens.last(tokens.PurposePasswordReset, u.ID)
	if token == "" {
		t.Fatalf("expected a reset token to be issued")
	}

	confirm := doJSON(fx.router, http.MethodPost, "/api/users/reset_password_confirm/",
		`{"uid":"1","token":"`+token+`","new_password":"n3w-password","re_new_password":"n3w-password"}`)
	if confirm.Code != http.StatusNoContent {
		t.Fatalf("confirm got status %d, body=%s", confirm.Code, confirm.Body.String())
	}

	got, _ := fx.repo.GetByID(nil, u.ID)
	if err := security.CheckPassword(got.PasswordHash, "n3w-password"); err != nil {
		t.Fatalf("new password does not verify: %v", err)
	}

	if fx.refresh.liveCount(u.ID) != 0 {
		t.Fatalf("expected all sessions revoked after password reset")
	}
}

func TestPasswordResetConfirmRejectsMismatch(t *testing.T) {
	fx := newAccountFixture(0, "")
	u := fx.addUser(t, "jane@example.com", true)

	token, _ := fx.tokens.Issue(nil, tokens.PurposePasswordReset, u.ID)

	w := doJSON(fx.router, http.MethodPost, "/api/users/reset_password_confirm/",
		`{"uid":"1","token":"`+token+`","new_password":"n3w-password","re_new_password":"different"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "re_new_password") {
		t.Fatalf("error must name re_new_password, body=%s", w.Body.String())
	}

	// the token must survive a mismatch so the user can retry
	if fx.tokens.last(tokens.PurposePasswordReset, u.ID) != token {
		t.Fatalf("token must not be consumed on validation failure")
	}
}

func TestEmailResetFlow(t *testing.T) {
	fx := newAccountFixture(0, "")
	u := fx.addUser(t, "jane@example.com", true)

	w := doJSON(fx.router, http.MethodPost, "/api/users/reset_email/",
		`{"email":"jane@example.com"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("initiate got status %d", w.Code)
	}

	token := fx.tokens.last(tokens.PurposeEmailReset, u.ID)

	confirm := doJSON(fx.router, http.MethodPost, "/api/users/reset_email_confirm/",
		`{"uid":"1","token":"`+token+`","new_email":"janet@example.com"}`)
	if confirm.Code != http.StatusNoContent {
		t.Fatalf("confirm got status %d, body=%s", confirm.Code, confirm.Body.String())
	}

	got, _ := fx.repo.GetByID(nil, u.ID)
	if got.Email != "janet@example.com" {
		t.Fatalf("expected updated email, got %s", got.Email)
	}
}

func TestEmailResetConfirmRejectsTakenEmail(t *testing.T) {
	fx := newAccountFixture(0, "")
	u := fx.addUser(t, "jane@example.com", true)
	fx.addUser(t, "taken@example.com", true)

	token, _ := fx.tokens.Issue(nil, tokens.PurposeEmailReset, u.ID)

	w := doJSON(fx.router, http.MethodPost, "/api/users/reset_email_confirm/",
		`{"uid":"1","token":"`+token+`","new_email":"taken@example.com"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "email_taken") {
		t.Fatalf("expected email_taken, body=%s", w.Body.String())
	}
}

func TestSetPasswordRequiresCurrentPassword(t *testing.T) {
	fx := newAccountFixture(1, user.RoleUser)
	fx.addUser(t, "jane@example.com", true)

	wrong := doJSON(fx.router, http.MethodPost, "/api/users/set_password/",
		`{"current_password":"wrong","new_password":"n3w-password"}`)
	if wrong.Code != http.StatusUnauthorized {
		t.Fatalf("wrong current password got status %d, want 401", wrong.Code)
	}

	right := doJSON(fx.router, http.MethodPost, "/api/users/set_password/",
		`{"current_password":"sup3r-secret","new_password":"n3w-password"}`)
	if right.Code != http.StatusNoContent {
		t.Fatalf("got status %d, body=%s", right.Code, right.Body.String())
	}

	got, _ := fx.repo.GetByID(nil, 1)
	if err := security.CheckPassword(got.PasswordHash, "n3w-password"); err != nil {
		t.Fatalf("new password does not verify: %v", err)
	}
}

func TestSetEmailRequiresCurrentPassword(t *testing.T) {
	fx := newAccountFixture(1, user.RoleUser)
	fx.addUser(t, "jane@example.com", true)

	w := doJSON(fx.router, http.MethodPost, "/api/users/set_email/",
		`{"current_password":"sup3r-secret","new_email":"janet@example.com"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	got, _ := fx.repo.GetByID(nil, 1)
	if got.Email != "janet@example.com" {
		t.Fatalf("expected updated email, got %s", got.Email)
	}
}
