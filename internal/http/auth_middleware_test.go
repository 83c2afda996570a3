package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/security"
	"github.com/gin-gonic/gin"
)

const testSecret = "test-secret"

type stubUsers struct {
	users map[uint64]models.User
	keys  map[string]uint64
}

func (s *stubUsers) GetUser(_ context.Context, id uint64) (models.User, error) {
	user, ok := s.users[id]
	if !ok {
		return models.User{}, errors.New("not found")
	}
	return user, nil
}

func (s *stubUsers) AuthenticateAPIKey(_ context.Context, key string) (models.User, error) {
	id, ok := s.keys[key]
	if !ok {
		return models.User{}, errors.New("not found")
	}
	return s.users[id], nil
}

func newStubUsers() *stubUsers {
	return &stubUsers{
		users: map[uint64]models.User{
			1: {ID: 1, Username: "alice"},
			2: {ID: 2, Username: "root", IsAdmin: true},
			3: {ID: 3, Username: "mallory", Disabled: true},
		},
		keys: map[string]uint64{"ah_valid": 1, "ah_disabled": 3},
	}
}

func runWithMiddleware(t *testing.T, middleware gin.HandlerFunc, setup func(*http.Request)) (*httptest.ResponseRecorder, uint64) {
	t.Helper()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	var seen uint64
	router.Use(middleware)
	router.GET("/*path", func(c *gin.Context) {
		seen = GetUserID(c)
		c.Status(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	if setup != nil {
		setup(req)
	}
	router.ServeHTTP(recorder, req)
	return recorder, seen
}

func mustToken(t *testing.T, userID uint64, admin bool, expiry time.Duration) string {
	t.Helper()
	token, err := security.GenerateToken(testSecret, userID, "u", admin, expiry)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return token
}

func TestUserAuthMiddleware(t *testing.T) {
	users := newStubUsers()
	cases := []struct {
		name        string
		allowAPIKey bool
		setup       func(*http.Request)
		wantStatus  int
		wantUser    uint64
	}{
		{"missing header", true, nil, http.StatusUnauthorized, 0},
		{"jwt", false, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+mustToken(t, 1, false, time.Hour))
		}, http.StatusNoContent, 1},
		{"expired jwt", false, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+mustToken(t, 1, false, -time.Minute))
		}, http.StatusUnauthorized, 0},
		{"api key as bearer", true, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer ah_valid")
		}, http.StatusNoContent, 1},
		{"api key header", true, func(r *http.Request) {
			r.Header.Set("X-API-Key", "ah_valid")
		}, http.StatusNoContent, 1},
		{"api key not allowed", false, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer ah_valid")
		}, http.StatusUnauthorized, 0},
		{"unknown api key", true, func(r *http.Request) {
			r.Header.Set("X-API-Key", "ah_unknown")
		}, http.StatusUnauthorized, 0},
		{"disabled user", true, func(r *http.Request) {
			r.Header.Set("X-API-Key", "ah_disabled")
		}, http.StatusForbidden, 0},
		{"basic scheme", false, func(r *http.Request) {
			r.Header.Set("Authorization", "Basic abc")
		}, http.StatusUnauthorized, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder, seen := runWithMiddleware(t, UserAuthMiddleware(users, testSecret, tc.allowAPIKey), tc.setup)
			if recorder.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", recorder.Code, tc.wantStatus, recorder.Body.String())
			}
			if seen != tc.wantUser {
				t.Fatalf("user = %d, want %d", seen, tc.wantUser)
			}
		})
	}
}

func TestAdminAuthMiddleware(t *testing.T) {
	users := newStubUsers()
	middleware := AdminAuthMiddleware(users, testSecret)

	recorder, seen := runWithMiddleware(t, middleware, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+mustToken(t, 2, true, time.Hour))
	})
	if recorder.Code != http.StatusNoContent || seen != 2 {
		t.Fatalf("admin token rejected: status=%d user=%d", recorder.Code, seen)
	}

	recorder, _ = runWithMiddleware(t, middleware, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+mustToken(t, 1, false, time.Hour))
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for user token, got %d", recorder.Code)
	}

	recorder, _ = runWithMiddleware(t, middleware, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+mustToken(t, 1, true, time.Hour))
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when the user lost admin rights, got %d", recorder.Code)
	}

	recorder, _ = runWithMiddleware(t, middleware, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer ah_valid")
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for api key, got %d", recorder.Code)
	}
}
