// Package oauth implements the social-provider exchange: trading a
// provider-issued authorization code for a local identity.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"

	"github.com/mwaller89/accounthub/internal/config"
)

var (
	ErrUnknownProvider  = errors.New("unknown oauth provider")
	ErrProviderRejected = errors.New("provider rejected credentials")
)

// Identity is the minimal profile accounthub needs to create or match a
// local user.
type Identity struct {
	Email     string
	FirstName string
	LastName  string
}

type Provider struct {
	Name        string
	Config      *oauth2.Config
	UserInfoURL string

	// parse maps the provider's userinfo document to an Identity.
	parse func([]byte) (Identity, error)
}

type Registry map[string]*Provider

// NewRegistry wires every provider that has credentials configured.
func NewRegistry(cfg config.Config) Registry {
	reg := Registry{}

	if cfg.GoogleClientID != "" {
		reg["google"] = &Provider{
			Name: "google",
			Config: &oauth2.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				RedirectURL:  cfg.GoogleRedirectURL,
				Scopes:       []string{"openid", "email", "profile"},
				Endpoint:     google.Endpoint,
			},
			UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
			parse:       parseGoogle,
		}
	}

	if cfg.FacebookClientID != "" {
		reg["facebook"] = &Provider{
			Name: "facebook",
			Config: &oauth2.Config{
				ClientID:     cfg.FacebookClientID,
				ClientSecret: cfg.FacebookClientSecret,
				RedirectURL:  cfg.FacebookRedirectURL,
				Scopes:       []string{"email", "public_profile"},
				Endpoint:     facebook.Endpoint,
			},
			UserInfoURL: "https://graph.facebook.com/me?fields=email,first_name,last_name",
			parse:       parseFacebook,
		}
	}

	return reg
}

func (r Registry) Get(name string) (*Provider, error) {
	p, ok := r[name]

	if !ok {
		return nil, ErrUnknownProvider
	}

	return p, nil
}

// AuthorizationURL builds the provider consent URL for the given state.
func (p *Provider) AuthorizationURL(state string) string {
	return p.Config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for an identity. Any upstream
// failure collapses into ErrProviderRejected; the detail is not the
// caller's business.
func (p *Provider) Exchange(ctx context.Context, code string) (Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tok, err := p.Config.Exchange(ctx, code)

	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrProviderRejected, err)
	}

	client := p.Config.Client(ctx, tok)

	resp, err := client.Get(p.UserInfoURL)

	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrProviderRejected, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("%w: userinfo status %d", ErrProviderRejected, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrProviderRejected, err)
	}

	id, err := p.parse(body)

	if err != nil {
		return Identity{}, err
	}

	if id.Email == "" {
		return Identity{}, fmt.Errorf("%w: profile has no email", ErrProviderRejected)
	}

	return id, nil
}

func parseGoogle(body []byte) (Identity, error) {
	var doc struct {
		Email      string `json:"email"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
	}

	if err := json.Unmarshal(body, &doc); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrProviderRejected, err)
	}

	return Identity{Email: doc.Email, FirstName: doc.GivenName, LastName: doc.FamilyName}, nil
}

func parseFacebook(body []byte) (Identity, error) {
	var doc struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}

	if err := json.Unmarshal(body, &doc); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrProviderRejected, err)
	}

	return Identity{Email: doc.Email, FirstName: doc.FirstName, LastName: doc.LastName}, nil
}
