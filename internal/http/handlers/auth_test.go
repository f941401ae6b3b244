package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"github.com/mwaller89/accounthub/internal/auth"
	"github.com/mwaller89/accounthub/internal/config"
	"github.com/mwaller89/accounthub/internal/domain/user"
	"github.com/mwaller89/accounthub/internal/http/handlers"
	"github.com/mwaller89/accounthub/internal/repo/postgres"
	"github.com/mwaller89/accounthub/internal/security"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeTx satisfies pgx.Tx; Rollback restores the store to its state at
// BeginTx unless the tx was committed, mirroring real tx semantics.

type fakeTx struct {
	pgx.Tx

	store    *fakeRefreshStore
	snapshot map[string]postgres.RefreshTokenRow
	done     bool
}

func (t *fakeTx) Commit(context.Context) error {
	t.done = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true

	t.store.mu.Lock()
	t.store.rows = t.snapshot
	t.store.mu.Unlock()
	return nil
}

// fakeRefreshStore keeps refresh token rows in memory.

type fakeRefreshStore struct {
	mu        sync.Mutex
	rows      map[string]postgres.RefreshTokenRow
	createErr error
}

func newFakeRefreshStore() *fakeRefreshStore {
	return &fakeRefreshStore{rows: map[string]postgres.RefreshTokenRow{}}
}

func (f *fakeRefreshStore) BeginTx(context.Context) (pgx.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot := make(map[string]postgres.RefreshTokenRow, len(f.rows))
	for id, row := range f.rows {
		snapshot[id] = row
	}
	return &fakeTx{store: f, snapshot: snapshot}, nil
}

func (f *fakeRefreshStore) Create(_ context.Context, _ pgx.Tx, row postgres.RefreshTokenRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return f.createErr
	}

	f.rows[row.ID] = row
	return nil
}

func (f *fakeRefreshStore) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (postgres.RefreshTokenRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.rows[id]
	if !ok {
		return postgres.RefreshTokenRow{}, pgx.ErrNoRows
	}
	return row, nil
}

func (f *fakeRefreshStore) Revoke(_ context.Context, _ pgx.Tx, id string, replacedBy *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.rows[id]
	if !ok {
		return pgx.ErrNoRows
	}

	now := time.Now().UTC()
	row.RevokedAt = &now
	row.ReplacedBy = replacedBy
	f.rows[id] = row
	return nil
}

func (f *fakeRefreshStore) RevokeAllForUser(_ context.Context, _ pgx.Tx, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().UTC()
	for id, row := range f.rows {
		if row.UserID == userID && row.RevokedAt == nil {
			row.RevokedAt = &now
			f.rows[id] = row
		}
	}
	return nil
}

func (f *fakeRefreshStore) liveCount(userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, row := range f.rows {
		if row.UserID == userID && row.RevokedAt == nil {
			n++
		}
	}
	return n
}

// fakeUserReader serves a single account.

type fakeUserReader struct {
	u user.User
}

func (f *fakeUserReader) GetByEmail(_ context.Context, email string) (user.User, error) {
	if email != f.u.Email {
		return user.User{}, user.ErrNotFound
	}
	return f.u, nil
}

func testUser(t *testing.T, active bool) user.User {
	t.Helper()

	hash, err := security.HashPassword("sup3r-secret")
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}

	return user.User{
		ID:           42,
		Email:        "jane@example.com",
		PasswordHash: hash,
		FirstName:    "Jane",
		LastName:     "Doe",
		IsActive:     active,
		Role:         user.RoleUser,
	}
}

func newAuthRouter(t *testing.T, active bool) (*gin.Engine, *fakeRefreshStore) {
	t.Helper()

	store := newFakeRefreshStore()
	jwtManager := auth.NewManager("test-secret", 15*time.Minute, 7*24*time.Hour)
	h := handlers.NewAuthHandler(&fakeUserReader{u: testUser(t, active)}, jwtManager, store, config.Config{Env: "test"})

	r := gin.New()
	r.POST("/api/jwt/create/", h.Create)
	r.POST("/api/jwt/refresh/", h.Refresh)
	r.POST("/api/jwt/verify/", h.Verify)
	r.POST("/api/logout/", h.Logout)

	return r, store
}

func postJSON(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, r *gin.Engine) (access, refresh string) {
	t.Helper()

	w := postJSON(r, "/api/jwt/create/", `{"email":"jane@example.com","password":"sup3r-secret"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login got status %d, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal login response: %v", err)
	}
	if resp.Access == "" || resp.Refresh == "" {
		t.Fatalf("expected both tokens, got %+v", resp)
	}

	return resp.Access, resp.Refresh
}

func TestLoginSetsCookiesAndReturnsTokens(t *testing.T) {
	r, store := newAuthRouter(t, true)

	w := postJSON(r, "/api/jwt/create/", `{"email":"jane@example.com","password":"sup3r-secret"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	cookies := w.Result().Cookies()
	names := map[string]bool{}
	for _, c := range cookies {
		names[c.Name] = true
		if !c.HttpOnly {
			t.Fatalf("cookie %s must be HttpOnly", c.Name)
		}
	}
	if !names["access"] || !names["refresh"] {
		t.Fatalf("expected access and refresh cookies, got %v", names)
	}

	if store.liveCount(42) != 1 {
		t.Fatalf("expected 1 live refresh token, got %d", store.liveCount(42))
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	r, _ := newAuthRouter(t, true)

	w := postJSON(r, "/api/jwt/create/", `{"email":"jane@example.com","password":"wrong"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", w.Code)
	}
}

func TestLoginRejectsInactiveAccountLikeBadCredentials(t *testing.T) {
	activeRouter, _ := newAuthRouter(t, true)
	inactiveRouter, _ := newAuthRouter(t, false)

	wrongPw := postJSON(activeRouter, "/api/jwt/create/", `{"email":"jane@example.com","password":"wrong"}`)
	inactive := postJSON(inactiveRouter, "/api/jwt/create/", `{"email":"jane@example.com","password":"sup3r-secret"}`)

	if inactive.Code != http.StatusUnauthorized {
		t.Fatalf("inactive login got status %d, want 401", inactive.Code)
	}

	// the two failures must be indistinguishable
	if wrongPw.Body.String() != inactive.Body.String() {
		t.Fatalf("inactive account response differs from bad password:\n%s\nvs\n%s",
			inactive.Body.String(), wrongPw.Body.String())
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	r, store := newAuthRouter(t, true)

	_, refresh := login(t, r)

	w := postJSON(r, "/api/jwt/refresh/", `{"refresh":"`+refresh+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh got status %d, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Access string `json:"access"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal refresh response: %v", err)
	}
	if resp.Access == "" {
		t.Fatalf("expected a new access token")
	}

	// the old refresh token was rotated out
	replay := postJSON(r, "/api/jwt/refresh/", `{"refresh":"`+refresh+`"}`)
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh got status %d, want 401", replay.Code)
	}

	if store.liveCount(42) != 1 {
		t.Fatalf("expected exactly 1 live refresh token after rotation, got %d", store.liveCount(42))
	}
}

func TestRefreshRejectsGarbage(t *testing.T) {
	r, _ := newAuthRouter(t, true)

	w := postJSON(r, "/api/jwt/refresh/", `{"refresh":"not-a-jwt"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", w.Code)
	}
}

func TestVerifyAcceptsBothTokenTypes(t *testing.T) {
	r, _ := newAuthRouter(t, true)

	access, refresh := login(t, r)

	for _, token := range []string{access, refresh} {
		w := postJSON(r, "/api/jwt/verify/", `{"token":"`+token+`"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("verify got status %d, body=%s", w.Code, w.Body.String())
		}
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	r, _ := newAuthRouter(t, true)

	access, _ := login(t, r)

	w := postJSON(r, "/api/jwt/verify/", `{"token":"`+access+`x"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", w.Code)
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	r, store := newAuthRouter(t, true)

	_, refresh := login(t, r)

	w := postJSON(r, "/api/logout/", `{"refresh":"`+refresh+`"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout got status %d", w.Code)
	}

	if store.liveCount(42) != 0 {
		t.Fatalf("expected no live refresh tokens after logout, got %d", store.liveCount(42))
	}

	// the revoked token cannot refresh anymore
	replay := postJSON(r, "/api/jwt/refresh/", `{"refresh":"`+refresh+`"}`)
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout got status %d, want 401", replay.Code)
	}
}

func TestLogoutWithoutSessionIsStillNoContent(t *testing.T) {
	r, _ := newAuthRouter(t, true)

	req := httptest.NewRequest(http.MethodPost, "/api/logout/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("got status %d, want 204", w.Code)
	}
}

func TestRefreshFailureLeavesOldTokenUsable(t *testing.T) {
	r, store := newAuthRouter(t, true)
	_, refresh := login(t, r)

	// rotation must be all-or-nothing: when any step after the revoke
	// fails, the rollback has to bring the presented token back
	store.createErr = errors.New("insert failed")

	w := postJSON(r, "/api/jwt/refresh/", `{"refresh":"`+refresh+`"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("got status %d, want 500, body=%s", w.Code, w.Body.String())
	}
	if store.liveCount(42) != 1 {
		t.Fatalf("expected old token to stay live, got %d live", store.liveCount(42))
	}

	store.createErr = nil

	retry := postJSON(r, "/api/jwt/refresh/", `{"refresh":"`+refresh+`"}`)
	if retry.Code != http.StatusOK {
		t.Fatalf("retry got status %d, body=%s", retry.Code, retry.Body.String())
	}
	if store.liveCount(42) != 1 {
		t.Fatalf("expected exactly 1 live token after rotation, got %d", store.liveCount(42))
	}
}
