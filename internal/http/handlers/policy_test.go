package handlers_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mwaller89/accounthub/internal/http/handlers"
)

func newPolicyRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)

	h := handlers.NewPolicyHandler()

	r := gin.New()
	for _, g := range []gin.IRoutes{r.Group("/api"), r} {
		g.GET("/privacy-policy/", h.PrivacyPolicy)
		g.GET("/terms-of-service/", h.TermsOfService)
		g.GET("/data-deletion-policy/", h.DataDeletionPolicy)
	}

	return r
}

func TestPolicyPagesServedUnderAPIPrefix(t *testing.T) {
	r := newPolicyRouter()

	pages := []string{
		"/api/privacy-policy/",
		"/api/terms-of-service/",
		"/api/data-deletion-policy/",
		"/privacy-policy/",
	}

	for _, path := range pages {
		w := doJSON(r, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: got status %d", path, w.Code)
		}

		var resp struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("GET %s: unmarshal: %v", path, err)
		}
		if resp.Message == "" {
			t.Fatalf("GET %s: expected policy text", path)
		}
	}
}
