package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/relay"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/sharecache"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/stories"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/users"
	githubsqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type stubGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.calls++
	return fmt.Sprintf("generated #%d for %d-char prompt", g.calls, len(prompt)), nil
}

type testEnvironment struct {
	handler   http.Handler
	generator *stubGenerator
	issuer    *auth.TokenIssuer
	hub       *relay.Hub
	cacheNow  time.Time
	cacheMu   sync.Mutex
}

func (e *testEnvironment) now() time.Time {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	return e.cacheNow
}

func (e *testEnvironment) advanceCache(duration time.Duration) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.cacheNow = e.cacheNow.Add(duration)
}

func newTestEnvironment(t *testing.T) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(githubsqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&stories.Story{}, &users.Account{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	env := &testEnvironment{
		generator: &stubGenerator{},
		cacheNow:  time.Now().UTC(),
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Hasher:   auth.NewPasswordHasher(bcrypt.MinCost),
	})
	if err != nil {
		t.Fatalf("failed to build users service: %v", err)
	}

	collector := metrics.NewCollector()
	storyService, err := stories.NewService(stories.ServiceConfig{
		Database:   db,
		Generator:  env.generator,
		ShareCache: sharecache.NewMemoryCache(env.now),
		ShareTTL:   24 * time.Hour,
		IDProvider: stories.NewUUIDProvider(),
		Observer:   collector,
	})
	if err != nil {
		t.Fatalf("failed to build stories service: %v", err)
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "storyspark-auth",
		Audience:      "storyspark-api",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	env.issuer = issuer
	env.hub = relay.NewHub(relay.HubConfig{Observer: collector})

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: issuer,
		Users:        userService,
		Stories:      storyService,
		Relay:        env.hub,
		Metrics:      collector,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	env.handler = handler
	return env
}

func (e *testEnvironment) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set(auth.HeaderAuthToken, token)
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return recorder
}

func (e *testEnvironment) register(t *testing.T, username string) string {
	t.Helper()
	recorder := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"password": "correct-horse",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("register failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		Token string `json:"token"`
	}
	decodeBody(t, recorder, &payload)
	if payload.Token == "" {
		t.Fatalf("expected token in register response")
	}
	return payload.Token
}

func (e *testEnvironment) generate(t *testing.T, token, prompt string) stories.Story {
	t.Helper()
	recorder := e.do(t, http.MethodPost, "/api/story/generate", token, map[string]string{"prompt": prompt})
	if recorder.Code != http.StatusOK {
		t.Fatalf("generate failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var story stories.Story
	decodeBody(t, recorder, &story)
	return story
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

type errorBody struct {
	Msg   string `json:"msg"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

func expectError(t *testing.T, recorder *httptest.ResponseRecorder, status int, msg string) errorBody {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, recorder.Code, recorder.Body.String())
	}
	var body errorBody
	decodeBody(t, recorder, &body)
	if body.Msg != msg {
		t.Fatalf("expected msg %q, got %q", msg, body.Msg)
	}
	return body
}
