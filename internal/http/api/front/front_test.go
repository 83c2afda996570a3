package front

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/config"
	dbutil "github.com/WonderhoyTeam/AntiHub-Backend/internal/db"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/logging"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/provider/mock"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/quota"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/security"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModel = "gemini-2.5-pro"

type testServer struct {
	t        *testing.T
	router   *gin.Engine
	store    *store.Store
	provider *mock.Provider
	jwtCfg   config.JWTConfig
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:front_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := dbutil.Open(dsn, dbutil.Options{})
	require.NoError(t, errOpen)
	t.Cleanup(func() { _ = dbutil.Close(conn) })
	require.NoError(t, dbutil.Migrate(conn))

	st := store.New(conn, 2)
	provider := mock.New()
	engine := quota.NewEngine(st, st, st, provider, quota.DefaultOptions())
	jwtCfg := config.JWTConfig{Secret: "front-secret", Expiry: time.Hour}

	router := gin.New()
	router.Use(logging.RequestID())
	RegisterFrontRoutes(router, st, engine, quota.NewPoller(st, provider), jwtCfg)
	return &testServer{t: t, router: router, store: st, provider: provider, jwtCfg: jwtCfg}
}

func (s *testServer) user(name string) (models.User, string) {
	s.t.Helper()
	hash, err := security.HashPassword("password123")
	require.NoError(s.t, err)
	user, err := s.store.CreateUser(context.Background(), name, hash, false)
	require.NoError(s.t, err)
	token, err := security.GenerateToken(s.jwtCfg.Secret, user.ID, user.Username, false, time.Hour)
	require.NoError(s.t, err)
	return user, token
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.router.ServeHTTP(recorder, req)
	return recorder
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &out), recorder.Body.String())
	return out
}

func (s *testServer) createAccount(token string, shared bool) string {
	s.t.Helper()
	isShared := 0
	if shared {
		isShared = 1
	}
	recorder := s.do(http.MethodPost, "/api/accounts", token, gin.H{
		"name":      "main",
		"is_shared": isShared,
		"models":    []string{testModel},
		"metadata":  gin.H{"access_token": "ya29.x"},
	})
	require.Equal(s.t, http.StatusCreated, recorder.Code, recorder.Body.String())
	return decode(s.t, recorder)["cookie_id"].(string)
}

func chatBody(stream bool) gin.H {
	return gin.H{
		"model":    testModel,
		"stream":   stream,
		"messages": []gin.H{{"role": "user", "content": "hi"}},
	}
}

func TestAccountRoutes(t *testing.T) {
	s := newTestServer(t)
	_, alice := s.user("alice")
	_, bob := s.user("bob")

	cookieID := s.createAccount(alice, true)

	list := decode(t, s.do(http.MethodGet, "/api/accounts", alice, nil))
	require.Len(t, list["accounts"], 1)
	assert.Len(t, decode(t, s.do(http.MethodGet, "/api/accounts", bob, nil))["accounts"], 0)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/accounts/"+cookieID, alice, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/accounts/"+cookieID, bob, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/api/accounts/"+cookieID, bob, nil).Code)

	quotas := decode(t, s.do(http.MethodGet, "/api/accounts/"+cookieID+"/quotas", alice, nil))
	rows := quotas["quotas"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, testModel, rows[0].(map[string]any)["model_name"])
	assert.Equal(t, 1.0, rows[0].(map[string]any)["quota"])

	recorder := s.do(http.MethodPut, "/api/accounts/"+cookieID+"/quotas/"+testModel+"/status", alice, gin.H{"status": 0})
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, string(models.QuotaDisabledByAdmin), decode(t, recorder)["status"])

	recorder = s.do(http.MethodPut, "/api/accounts/"+cookieID+"/status", alice, gin.H{"status": 2})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	recorder = s.do(http.MethodPut, "/api/accounts/"+cookieID+"/status", alice, gin.H{"status": 0})
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 0.0, decode(t, recorder)["status"])

	recorder = s.do(http.MethodPost, "/api/accounts", alice, gin.H{"name": "empty"})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	assert.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/api/accounts/"+cookieID, alice, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/accounts/"+cookieID, alice, nil).Code)
}

func TestChatCompletionSettlesAndShowsInQuotaViews(t *testing.T) {
	s := newTestServer(t)
	_, alice := s.user("alice")
	s.createAccount(alice, true)
	require.Equal(t, http.StatusOK, s.do(http.MethodPut, "/api/preference", alice, gin.H{"prefer_shared": 1}).Code)

	recorder := s.do(http.MethodPost, "/v1/chat/completions", alice, chatBody(false))
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	resp := decode(t, recorder)
	choice := resp["choices"].([]any)[0].(map[string]any)
	assert.Equal(t, "Hello from mock provider", choice["message"].(map[string]any)["content"])
	requestID := recorder.Header().Get(logging.RequestIDHeader)
	require.NotEmpty(t, requestID)

	consumption := decode(t, s.do(http.MethodGet, "/api/quotas/consumption?limit=10", alice, nil))
	rows := consumption["consumption"].([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	assert.Equal(t, requestID, row["request_id"])
	assert.Equal(t, true, row["is_shared"])
	assert.InDelta(t, 0.01, row["quota_consumed"].(float64), 1e-9)

	stats := decode(t, s.do(http.MethodGet, "/api/quotas/consumption/stats/"+testModel, alice, nil))
	assert.Equal(t, 1.0, stats["total_requests"])

	pools := decode(t, s.do(http.MethodGet, "/api/quotas/user", alice, nil))["pools"].([]any)
	require.Len(t, pools, 1)
	pool := pools[0].(map[string]any)
	assert.InDelta(t, 1.99, pool["quota"].(float64), 1e-9)
	assert.Equal(t, 2.0, pool["max_quota"])

	shared := decode(t, s.do(http.MethodGet, "/api/quotas/shared-pool", alice, nil))["models"].([]any)
	require.Len(t, shared, 1)
	assert.Equal(t, 1.0, shared[0].(map[string]any)["available_cookies"])
}

func TestChatStreamsServerSentEventsWithAPIKey(t *testing.T) {
	s := newTestServer(t)
	_, alice := s.user("alice")
	s.createAccount(alice, false)

	keyResp := s.do(http.MethodPost, "/api/api-keys", alice, gin.H{"name": "cli"})
	require.Equal(t, http.StatusCreated, keyResp.Code, keyResp.Body.String())
	apiKey := decode(t, keyResp)["key"].(string)
	require.True(t, strings.HasPrefix(apiKey, security.APIKeyPrefix))

	payload, _ := json.Marshal(chatBody(true))
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(payload))
	req.Header.Set("X-API-Key", apiKey)
	recorder := httptest.NewRecorder()
	s.router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.True(t, strings.HasPrefix(recorder.Header().Get("Content-Type"), "text/event-stream"))
	body := recorder.Body.String()
	assert.Contains(t, body, `"object":"chat.completion.chunk"`)
	assert.Contains(t, body, `"content":"Hello"`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))

	var logs []models.ConsumptionLog
	require.NoError(t, s.store.DB().Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Streamed)
	assert.False(t, logs[0].Partial)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/accounts", apiKey, nil).Code)
}

func TestRevokedAPIKeyIsRejected(t *testing.T) {
	s := newTestServer(t)
	_, alice := s.user("alice")
	_, bob := s.user("bob")

	created := decode(t, s.do(http.MethodPost, "/api/api-keys", alice, gin.H{"name": "cli"}))
	apiKey := created["key"].(string)
	keyID := uint64(created["id"].(float64))

	withKey := func() int {
		req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		req.Header.Set("X-API-Key", apiKey)
		recorder := httptest.NewRecorder()
		s.router.ServeHTTP(recorder, req)
		return recorder.Code
	}
	require.Equal(t, http.StatusOK, withKey())

	keys := decode(t, s.do(http.MethodGet, "/api/api-keys", alice, nil))["api_keys"].([]any)
	require.Len(t, keys, 1)
	listed := keys[0].(map[string]any)
	assert.Equal(t, "cli", listed["name"])
	assert.Equal(t, true, listed["active"])
	assert.Equal(t, apiKey[:4]+"..."+apiKey[len(apiKey)-4:], listed["key"])
	assert.NotContains(t, s.do(http.MethodGet, "/api/api-keys", alice, nil).Body.String(), apiKey)

	path := fmt.Sprintf("/api/api-keys/%d", keyID)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, path, bob, nil).Code)
	assert.Equal(t, http.StatusOK, withKey(), "a failed revoke by another user leaves the key working")
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodDelete, "/api/api-keys/abc", alice, nil).Code)

	recorder := s.do(http.MethodDelete, path, alice, nil)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	revoked := decode(t, recorder)
	assert.Equal(t, false, revoked["active"])
	assert.NotNil(t, revoked["revoked_at"])

	assert.Equal(t, http.StatusUnauthorized, withKey())
	keys = decode(t, s.do(http.MethodGet, "/api/api-keys", alice, nil))["api_keys"].([]any)
	require.Len(t, keys, 1)
	assert.Equal(t, false, keys[0].(map[string]any)["active"])
}

func TestChatErrorMapping(t *testing.T) {
	s := newTestServer(t)
	_, alice := s.user("alice")

	recorder := s.do(http.MethodPost, "/v1/chat/completions", alice, chatBody(false))
	require.Equal(t, http.StatusConflict, recorder.Code)
	assert.Equal(t, "no_eligible_credential", decode(t, recorder)["error"])

	cookieID := s.createAccount(alice, false)
	s.provider.FailChat(cookieID, errors.New("upstream 503"))
	recorder = s.do(http.MethodPost, "/v1/chat/completions", alice, chatBody(false))
	require.Equal(t, http.StatusBadGateway, recorder.Code)
	assert.Equal(t, "provider_call_failed", decode(t, recorder)["error"])

	s.provider.FailChat(cookieID, nil)
	s.provider.SetQuota(cookieID, testModel, 0)
	recorder = s.do(http.MethodPost, "/v1/chat/completions", alice, chatBody(false))
	require.Equal(t, http.StatusTooManyRequests, recorder.Code)
	body := decode(t, recorder)
	assert.Equal(t, "quota_exhausted", body["error"])
	assert.Equal(t, testModel, body["model"])

	recorder = s.do(http.MethodPost, "/v1/chat/completions", alice, gin.H{"model": testModel})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	var n int64
	require.NoError(t, s.store.DB().Model(&models.ConsumptionLog{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestPreferenceAndModels(t *testing.T) {
	s := newTestServer(t)
	_, alice := s.user("alice")

	pref := decode(t, s.do(http.MethodGet, "/api/preference", alice, nil))
	assert.Equal(t, 0.0, pref["prefer_shared"])
	assert.Equal(t, false, pref["use_only_dedicated"])

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/api/preference", alice, gin.H{"prefer_shared": 3}).Code)
	pref = decode(t, s.do(http.MethodPut, "/api/preference", alice, gin.H{"use_only_dedicated": true}))
	assert.Equal(t, true, pref["use_only_dedicated"])

	assert.Len(t, decode(t, s.do(http.MethodGet, "/v1/models", alice, nil))["data"], 0)
	s.createAccount(alice, false)
	data := decode(t, s.do(http.MethodGet, "/v1/models", alice, nil))["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, testModel, data[0].(map[string]any)["id"])
}

func TestLoginAndManualRefresh(t *testing.T) {
	s := newTestServer(t)
	s.user("alice")

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "alice", "password": "wrong-password"}).Code)
	recorder := s.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "alice", "password": "password123"})
	require.Equal(t, http.StatusOK, recorder.Code)
	token := decode(t, recorder)["token"].(string)

	cookieID := s.createAccount(token, false)
	s.provider.SetQuota(cookieID, testModel, 0.42)
	recorder = s.do(http.MethodPost, "/api/accounts/"+cookieID+"/quotas/refresh", token, nil)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	rows := decode(t, recorder)["quotas"].([]any)
	require.Len(t, rows, 1)
	assert.InDelta(t, 0.42, rows[0].(map[string]any)["quota"].(float64), 1e-9)
}

func TestConsumptionQueryValidation(t *testing.T) {
	s := newTestServer(t)
	_, alice := s.user("alice")

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/quotas/consumption?start_date=yesterday", alice, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/quotas/consumption?start_date=2026-03-02&end_date=2026-03-01", alice, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/quotas/consumption?start_date=2026-03-01&end_date=2026-03-01", alice, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/quotas/consumption", "", nil).Code)
}
