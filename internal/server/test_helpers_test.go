package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cryptofolio/backend/internal/auth"
	"github.com/cryptofolio/backend/internal/portfolio"
	"github.com/cryptofolio/backend/internal/users"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var routerTestDatabaseSequence atomic.Int64

type testEnv struct {
	handler          http.Handler
	usersService     *users.Service
	portfolioService *portfolio.Service
	events           *EventDispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:router_test_%d?mode=memory&cache=shared", routerTestDatabaseSequence.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&users.User{}, &users.RefreshToken{}, &portfolio.Portfolio{}, &portfolio.PortfolioVersion{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create users service: %v", err)
	}
	portfolioService, err := portfolio.NewService(portfolio.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create portfolio service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("router-test-secret"),
		Issuer:        "cryptofolio-auth",
		Audience:      "cryptofolio-api",
		TokenTTL:      30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}

	events := NewEventDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		UsersService:     usersService,
		PortfolioService: portfolioService,
		Events:           events,
		TokenManager:     issuer,
	})
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}

	return &testEnv{
		handler:          handler,
		usersService:     usersService,
		portfolioService: portfolioService,
		events:           events,
	}
}

func (env *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

type credentialsEnvelope struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         struct {
		ID               uint   `json:"id"`
		SubscriptionTier string `json:"subscription_tier"`
	} `json:"user"`
}

func (env *testEnv) register(t *testing.T, email string) credentialsEnvelope {
	t.Helper()
	recorder := env.do(t, http.MethodPost, "/auth/register", "", gin.H{
		"email":    email,
		"password": "correct horse battery",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("registration failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	var credentials credentialsEnvelope
	decodeBody(t, recorder, &credentials)
	return credentials
}

func (env *testEnv) upgradeToPremium(t *testing.T, token string) {
	t.Helper()
	recorder := env.do(t, http.MethodPost, "/subscriptions/upgrade", token, gin.H{"tier": "premium"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("upgrade failed with %d: %s", recorder.Code, recorder.Body.String())
	}
}

func testDocument() portfolio.Document {
	return portfolio.Document{
		Assets: map[string]portfolio.AssetEntry{
			"btc": {Amount: "1.5", CostBasis: "40000", LastModified: "2025-05-01T00:00:00Z"},
			"eth": {Amount: "10", CostBasis: "2500", LastModified: "2025-05-01T00:00:00Z"},
		},
		Settings:      map[string]interface{}{"currency": "usd"},
		Metadata:      map[string]interface{}{"device_id": "phone-1"},
		SchemaVersion: portfolio.DefaultSchemaVersion,
	}
}

func corsPreflight(method string) (*http.Request, *httptest.ResponseRecorder) {
	request := httptest.NewRequest(http.MethodOptions, "/portfolios/1", http.NoBody)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", method)
	request.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	return request, httptest.NewRecorder()
}

func (env *testEnv) createPortfolio(t *testing.T, token string) uint {
	t.Helper()
	recorder := env.do(t, http.MethodPost, "/portfolios", token, gin.H{
		"name":     "main",
		"document": testDocument(),
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	var created struct {
		ID uint `json:"id"`
	}
	decodeBody(t, recorder, &created)
	return created.ID
}
