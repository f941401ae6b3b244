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

type UsersRepository interface {
	Create(ctx context.Context, email, passwordHash, firstName, lastName string, isActive bool, role string) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id int64) (user.User, error)
	List(ctx context.Context, limit int, cursor string) ([]user.User, string, error)
	UpdateNames(ctx context.Context, id int64, firstName, lastName string) (user.User, error)
	UpdateEmail(ctx context.Context, id int64, email string) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	Activate(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

type TokenIssuer interface {
	Issue(ctx context.Context, purpose tokens.Purpose, userID int64) (string, error)
	Consume(ctx context.Context, purpose tokens.Purpose, userID int64, token string) error
}

type MailEnqueuer interface {
	Enqueue(ctx context.Context, j jobs.Job) error
}

// UsersHandler covers the /api/users/ resource: registration, CRUD and the
// /me alias.
type UsersHandler struct {
	repo   UsersRepository
	tokens TokenIssuer
	queue  MailEnqueuer
}

func NewUsersHandler(repo UsersRepository, tokenStore TokenIssuer, queue MailEnqueuer) *UsersHandler {
	return &UsersHandler{
		repo:   repo,
		tokens: tokenStore,
		queue:  queue,
	}
}

// Create implements POST /api/users/: self-registration. The account starts
// inactive; an activation email is queued before the response goes out.
func (h *UsersHandler) Create(ctx *gin.Context) {
	var req user.CreateUserRequest

	if !Bind(ctx, &req) {
		return
	}

	if req.Password != req.RePassword {
		RespondBadRequest(ctx, "invalid_request", "Invalid request body", gin.H{
			"fields": []FieldError{{
				Field:   "re_password",
				Rule:    "eqfield",
				Message: "must match password",
			}},
		})
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	u, err := h.repo.Create(cctx, req.Email, hash, req.FirstName, req.LastName, false, user.RoleUser)

	if err != nil {
		if errors.Is(err, user.ErrEmailAlreadyUsed) {
			RespondBadRequest(ctx, "email_taken", "Email is already in use.", nil)
			return
		}

		RespondInternal(ctx, "Could not create user")
		return
	}

	if err := h.enqueueTokenEmail(cctx, jobs.JobSendActivationEmail, tokens.PurposeActivation, u); err != nil {
		// the account exists either way; activation can be re-requested
		RespondInternal(ctx, "Could not queue activation email")
		return
	}

	ctx.JSON(http.StatusCreated, u)
}

// List implements GET /api/users/ (admin only), cursor-paginated.
func (h *UsersHandler) List(ctx *gin.Context) {
	limit := 20

	if raw := ctx.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	users, next, err := h.repo.List(cctx, limit, ctx.Query("cursor"))

	if err != nil {
		RespondBadRequest(ctx, "invalid_request", "Could not list users", gin.H{"reason": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"count":       len(users),
		"next_cursor": next,
		"users":       users,
	})
}

// Retrieve serves GET /api/users/{id}/ and GET /api/users/me/.
func (h *UsersHandler) Retrieve(ctx *gin.Context) {
	targetID, ok := h.resolveTarget(ctx)

	if !ok {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	u, err := h.repo.GetByID(cctx, targetID)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not load user")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, u)
}

// Update serves PUT: both names are required, email and id stay read-only.
func (h *UsersHandler) Update(ctx *gin.Context) {
	targetID, ok := h.resolveTarget(ctx)

	if !ok {
		return
	}

	var req user.UpdateUserRequest

	if !Bind(ctx, &req) {
		return
	}

	h.applyNameUpdate(ctx, targetID, req.FirstName, req.LastName)
}

// PartialUpdate serves PATCH: either name may be omitted.
func (h *UsersHandler) PartialUpdate(ctx *gin.Context) {
	targetID, ok := h.resolveTarget(ctx)

	if !ok {
		return
	}

	var req user.PatchUserRequest

	if !Bind(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	current, err := h.repo.GetByID(cctx, targetID)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not load user")
		return
	}

	firstName := current.FirstName
	lastName := current.LastName

	if req.FirstName != nil {
		firstName = *req.FirstName
	}

	if req.LastName != nil {
		lastName = *req.LastName
	}

	h.applyNameUpdate(ctx, targetID, firstName, lastName)
}

// Destroy serves DELETE.
func (h *UsersHandler) Destroy(ctx *gin.Context) {
	targetID, ok := h.resolveTarget(ctx)

	if !ok {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	err := h.repo.Delete(cctx, targetID)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not delete user")
		return
	}

	ctx.Status(http.StatusNoContent)
}

func (h *UsersHandler) applyNameUpdate(ctx *gin.Context, id int64, firstName, lastName string) {
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	u, err := h.repo.UpdateNames(cctx, id, firstName, lastName)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not update user")
		return
	}

	ctx.JSON(http.StatusOK, u)
}

// resolveTarget maps the route to a user id and enforces ownership: /me/ is
// always the caller, /{id}/ is the caller or an admin.
func (h *UsersHandler) resolveTarget(ctx *gin.Context) (int64, bool) {
	callerID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || callerID <= 0 {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return 0, false
	}

	raw := ctx.Param("id")

	if raw == "" || raw == "me" {
		return callerID, true
	}

	targetID, err := strconv.ParseInt(raw, 10, 64)

	if err != nil || targetID <= 0 {
		RespondBadRequest(ctx, "invalid_id", "user id must be a positive integer", nil)
		return 0, false
	}

	if targetID != callerID {
		role, _ := middlewares.RoleFromContext(ctx)

		if role != user.RoleAdmin {
			RespondForbidden(ctx, "You can only act on your own account")
			return 0, false
		}
	}

	return targetID, true
}

// enqueueTokenEmail issues a one-time token and queues the matching email.
func (h *UsersHandler) enqueueTokenEmail(ctx context.Context, jobType jobs.JobType, purpose tokens.Purpose, u user.User) error {
	token, err := h.tokens.Issue(ctx, purpose, u.ID)

	if err != nil {
		return err
	}

	payload, err := jobs.EncodePayload(jobType, jobs.EmailTokenPayload{
		UserID:      u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		Token:       token,
		RequestedAt: time.Now().UTC(),
	})

	if err != nil {
		return err
	}

	j, err := jobs.NewJob(jobType, payload)

	if err != nil {
		return err
	}

	return h.queue.Enqueue(ctx, j)
}
