package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mwaller89/accounthub/internal/cache"
	"github.com/mwaller89/accounthub/internal/config"
	"github.com/mwaller89/accounthub/internal/domain/user"
	"github.com/mwaller89/accounthub/internal/oauth"
	"github.com/mwaller89/accounthub/internal/security"
)

// OAuthHandler drives the social login exchange: it hands out provider
// authorization URLs and turns a provider callback into a local session.
type OAuthHandler struct {
	providers oauth.Registry
	states    *cache.Cache[struct{}]
	repo      UsersRepository
	auth      *AuthHandler
}

func NewOAuthHandler(providers oauth.Registry, repo UsersRepository, auth *AuthHandler) *OAuthHandler {
	return &OAuthHandler{
		providers: providers,
		// states outlive a user's round trip to the provider consent page
		states: cache.New[struct{}](10 * time.Minute),
		repo:   repo,
		auth:   auth,
	}
}

type OAuthCallbackRequest struct {
	Code  string `json:"code" form:"code" binding:"required"`
	State string `json:"state" form:"state" binding:"required"`
}

// Authorize implements GET /api/o/{provider}/.
func (h *OAuthHandler) Authorize(ctx *gin.Context) {
	p, err := h.providers.Get(ctx.Param("provider"))

	if err != nil {
		RespondNotFound(ctx, "Unknown OAuth provider")
		return
	}

	state := uuid.NewString()
	h.states.Set(stateKey(p.Name, state), struct{}{})

	ctx.JSON(http.StatusOK, gin.H{
		"authorization_url": p.AuthorizationURL(state),
	})
}

// Exchange implements POST /api/o/{provider}/. A valid code either signs in
// the matching local account or provisions a new active one.
func (h *OAuthHandler) Exchange(ctx *gin.Context) {
	p, err := h.providers.Get(ctx.Param("provider"))

	if err != nil {
		RespondNotFound(ctx, "Unknown OAuth provider")
		return
	}

	var req OAuthCallbackRequest

	if !Bind(ctx, &req) {
		return
	}

	if !h.consumeState(p.Name, req.State) {
		RespondBadRequest(ctx, "invalid_state", "Unknown or expired OAuth state", nil)
		return
	}

	identity, err := p.Exchange(ctx.Request.Context(), req.Code)

	if err != nil {
		if errors.Is(err, oauth.ErrProviderRejected) {
			RespondBadRequest(ctx, "provider_rejected", "The provider rejected the authorization code", nil)
			return
		}

		RespondInternal(ctx, "Could not complete sign-in")
		return
	}

	u, err := h.findOrCreate(ctx, identity)

	if err != nil {
		RespondInternal(ctx, "Could not complete sign-in")
		return
	}

	access, refresh, err := h.auth.IssueTokenPair(ctx.Request.Context(), u)

	if err != nil {
		RespondInternal(ctx, "Could not complete sign-in")
		return
	}

	h.auth.SetAuthCookies(ctx, access, refresh)

	ctx.JSON(http.StatusCreated, gin.H{
		"access":  access,
		"refresh": refresh,
		"user":    u,
	})
}

// consumeState checks and burns a state value so it cannot be replayed.
func (h *OAuthHandler) consumeState(provider, state string) bool {
	_, ok := h.states.Take(stateKey(provider, state))

	return ok
}

func (h *OAuthHandler) findOrCreate(ctx *gin.Context, identity oauth.Identity) (user.User, error) {
	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	u, err := h.repo.GetByEmail(cctx, identity.Email)

	if err == nil {
		return u, nil
	}

	if !errors.Is(err, user.ErrNotFound) {
		return user.User{}, err
	}

	// provider-asserted emails are trusted, so the account starts active
	// with an unguessable placeholder password
	pw, err := security.RandomPassword()

	if err != nil {
		return user.User{}, err
	}

	hash, err := security.HashPassword(pw)

	if err != nil {
		return user.User{}, err
	}

	created, err := h.repo.Create(cctx, identity.Email, hash, identity.FirstName, identity.LastName, true, user.RoleUser)

	if err == nil {
		return created, nil
	}

	// a concurrent signup with the same email loses the race but still
	// signs in
	if errors.Is(err, user.ErrEmailAlreadyUsed) {
		return h.repo.GetByEmail(cctx, identity.Email)
	}

	return user.User{}, err
}

func stateKey(provider, state string) string {
	return "oauth:" + provider + ":" + state
}
