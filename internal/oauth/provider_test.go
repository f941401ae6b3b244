package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"github.com/mwaller89/accounthub/internal/config"
)

// fakeProviderServer stands in for both the token and userinfo endpoints.
func fakeProviderServer(t *testing.T, userinfoStatus int, userinfoBody string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}

		if r.Form.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer"}`))
	})

	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(userinfoStatus)
		_, _ = w.Write([]byte(userinfoBody))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func testProvider(srv *httptest.Server) *Provider {
	return &Provider{
		Name: "google",
		Config: &oauth2.Config{
			ClientID:     "client",
			ClientSecret: "secret",
			RedirectURL:  "http://localhost/callback",
			Scopes:       []string{"openid", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  srv.URL + "/auth",
				TokenURL: srv.URL + "/token",
			},
		},
		UserInfoURL: srv.URL + "/userinfo",
		parse:       parseGoogle,
	}
}

func TestExchangeReturnsIdentity(t *testing.T) {
	srv := fakeProviderServer(t, http.StatusOK,
		`{"email":"jane@example.com","given_name":"Jane","family_name":"Doe"}`)

	id, err := testProvider(srv).Exchange(context.Background(), "good-code")
	if err != nil {
		t.Fatalf("Exchange error: %v", err)
	}

	if id.Email != "jane@example.com" {
		t.Fatalf("unexpected email: %s", id.Email)
	}
	if id.FirstName != "Jane" || id.LastName != "Doe" {
		t.Fatalf("unexpected name: %s %s", id.FirstName, id.LastName)
	}
}

func TestExchangeRejectsBadCode(t *testing.T) {
	srv := fakeProviderServer(t, http.StatusOK, `{}`)

	_, err := testProvider(srv).Exchange(context.Background(), "bad-code")
	if !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
}

func TestExchangeRejectsProfileWithoutEmail(t *testing.T) {
	srv := fakeProviderServer(t, http.StatusOK, `{"given_name":"Jane"}`)

	_, err := testProvider(srv).Exchange(context.Background(), "good-code")
	if !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
}

func TestExchangeRejectsUserinfoFailure(t *testing.T) {
	srv := fakeProviderServer(t, http.StatusInternalServerError, `boom`)

	_, err := testProvider(srv).Exchange(context.Background(), "good-code")
	if !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
}

func TestRegistryWiresOnlyConfiguredProviders(t *testing.T) {
	reg := NewRegistry(config.Config{
		GoogleClientID:     "client",
		GoogleClientSecret: "secret",
	})

	if _, err := reg.Get("google"); err != nil {
		t.Fatalf("expected google to be registered: %v", err)
	}

	if _, err := reg.Get("facebook"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider for facebook, got %v", err)
	}
}

func TestAuthorizationURLCarriesState(t *testing.T) {
	srv := fakeProviderServer(t, http.StatusOK, `{}`)

	u := testProvider(srv).AuthorizationURL("some-state")

	if !strings.Contains(u, "state=some-state") {
		t.Fatalf("authorization url missing state: %s", u)
	}
}
