package server

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRegisterLoginAndPortfolioLifecycle(t *testing.T) {
	env := newTestEnv(t)

	credentials := env.register(t, "user@example.com")
	if credentials.AccessToken == "" || credentials.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %#v", credentials)
	}
	if credentials.User.SubscriptionTier != "free" {
		t.Fatalf("new accounts start on free tier, got %q", credentials.User.SubscriptionTier)
	}

	login := env.do(t, http.MethodPost, "/auth/login", "", gin.H{
		"email":    "user@example.com",
		"password": "correct horse battery",
	})
	if login.Code != http.StatusOK {
		t.Fatalf("login failed with %d: %s", login.Code, login.Body.String())
	}

	portfolioID := env.createPortfolio(t, credentials.AccessToken)

	list := env.do(t, http.MethodGet, "/portfolios", credentials.AccessToken, nil)
	if list.Code != http.StatusOK {
		t.Fatalf("list failed with %d", list.Code)
	}
	var listed struct {
		Portfolios []struct {
			ID      uint  `json:"id"`
			Version int64 `json:"version"`
		} `json:"portfolios"`
	}
	decodeBody(t, list, &listed)
	if len(listed.Portfolios) != 1 || listed.Portfolios[0].ID != portfolioID || listed.Portfolios[0].Version != 1 {
		t.Fatalf("unexpected listing %#v", listed)
	}

	deleted := env.do(t, http.MethodDelete, "/portfolios/1", credentials.AccessToken, nil)
	if deleted.Code != http.StatusOK {
		t.Fatalf("delete failed with %d", deleted.Code)
	}
	missing := env.do(t, http.MethodGet, "/portfolios/1", credentials.AccessToken, nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", missing.Code)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "user@example.com")

	recorder := env.do(t, http.MethodPost, "/auth/login", "", gin.H{
		"email":    "user@example.com",
		"password": "not the password",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodGet, "/portfolios", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}

	recorder = env.do(t, http.MethodGet, "/portfolios", "not-a-jwt", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", recorder.Code)
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	env := newTestEnv(t)
	credentials := env.register(t, "user@example.com")

	refreshed := env.do(t, http.MethodPost, "/auth/refresh", "", gin.H{
		"refresh_token": credentials.RefreshToken,
	})
	if refreshed.Code != http.StatusOK {
		t.Fatalf("refresh failed with %d: %s", refreshed.Code, refreshed.Body.String())
	}
	var next credentialsEnvelope
	decodeBody(t, refreshed, &next)
	if next.RefreshToken == credentials.RefreshToken {
		t.Fatalf("refresh must rotate the refresh token")
	}

	replayed := env.do(t, http.MethodPost, "/auth/refresh", "", gin.H{
		"refresh_token": credentials.RefreshToken,
	})
	if replayed.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on replayed refresh token, got %d", replayed.Code)
	}
}

func TestFreeTierPortfolioLimit(t *testing.T) {
	env := newTestEnv(t)
	credentials := env.register(t, "user@example.com")

	env.createPortfolio(t, credentials.AccessToken)

	second := env.do(t, http.MethodPost, "/portfolios", credentials.AccessToken, gin.H{
		"name":     "second",
		"document": testDocument(),
	})
	if second.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for second free-tier portfolio, got %d", second.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, second, &body)
	if body.Error != "portfolio_limit_reached" {
		t.Fatalf("unexpected error code %q", body.Error)
	}

	env.upgradeToPremium(t, credentials.AccessToken)
	third := env.do(t, http.MethodPost, "/portfolios", credentials.AccessToken, gin.H{
		"name":     "second",
		"document": testDocument(),
	})
	if third.Code != http.StatusCreated {
		t.Fatalf("premium accounts are uncapped, got %d: %s", third.Code, third.Body.String())
	}
}

func TestCreateRejectsInvalidDocument(t *testing.T) {
	env := newTestEnv(t)
	credentials := env.register(t, "user@example.com")

	document := testDocument()
	document.SchemaVersion = "9.9.9"
	recorder := env.do(t, http.MethodPost, "/portfolios", credentials.AccessToken, gin.H{
		"name":     "main",
		"document": document,
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad schema version, got %d", recorder.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, recorder, &body)
	if body.Error != "invalid_document" {
		t.Fatalf("unexpected error code %q", body.Error)
	}
}

func TestOwnershipIsolation(t *testing.T) {
	env := newTestEnv(t)
	owner := env.register(t, "owner@example.com")
	intruder := env.register(t, "intruder@example.com")

	portfolioID := env.createPortfolio(t, owner.AccessToken)

	recorder := env.do(t, http.MethodGet, "/portfolios/1", intruder.AccessToken, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("foreign portfolios must read as absent, got %d for id %d", recorder.Code, portfolioID)
	}
}

func TestSubscriptionEndpoints(t *testing.T) {
	env := newTestEnv(t)
	credentials := env.register(t, "user@example.com")

	tiers := env.do(t, http.MethodGet, "/subscriptions/tiers", "", nil)
	if tiers.Code != http.StatusOK {
		t.Fatalf("tiers listing failed with %d", tiers.Code)
	}
	var tiersBody struct {
		Tiers map[string]struct {
			CloudStorage bool `json:"cloud_storage"`
		} `json:"tiers"`
	}
	decodeBody(t, tiers, &tiersBody)
	if !tiersBody.Tiers["premium"].CloudStorage || tiersBody.Tiers["free"].CloudStorage {
		t.Fatalf("unexpected tier matrix %#v", tiersBody.Tiers)
	}

	me := env.do(t, http.MethodGet, "/subscriptions/me", credentials.AccessToken, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("subscription lookup failed with %d", me.Code)
	}
	var meBody struct {
		Tier string `json:"tier"`
	}
	decodeBody(t, me, &meBody)
	if meBody.Tier != "free" {
		t.Fatalf("expected free tier, got %q", meBody.Tier)
	}
}

func TestVersionsEndpointNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	credentials := env.register(t, "user@example.com")
	env.createPortfolio(t, credentials.AccessToken)

	document := testDocument()
	entry := document.Assets["btc"]
	entry.Amount = "2.5"
	document.Assets["btc"] = entry
	updated := env.do(t, http.MethodPut, "/portfolios/1", credentials.AccessToken, gin.H{"document": document})
	if updated.Code != http.StatusOK {
		t.Fatalf("update failed with %d: %s", updated.Code, updated.Body.String())
	}

	recorder := env.do(t, http.MethodGet, "/portfolios/1/versions?limit=5", credentials.AccessToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("versions failed with %d", recorder.Code)
	}
	var body struct {
		Versions []struct {
			Version int64 `json:"version"`
		} `json:"versions"`
	}
	decodeBody(t, recorder, &body)
	if len(body.Versions) != 2 || body.Versions[0].Version != 2 || body.Versions[1].Version != 1 {
		t.Fatalf("expected versions [2 1], got %#v", body.Versions)
	}
}

func TestCORSPreflightAllowsMutationMethods(t *testing.T) {
	env := newTestEnv(t)

	request, recorder := corsPreflight(http.MethodPut)
	env.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusNoContent && recorder.Code != http.StatusOK {
		t.Fatalf("unexpected preflight status %d", recorder.Code)
	}
	allowMethods := recorder.Header().Get("Access-Control-Allow-Methods")
	if allowMethods == "" {
		t.Fatalf("expected Access-Control-Allow-Methods header")
	}
}
