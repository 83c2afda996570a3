package logging

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/config"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestSetupLevelAndFile(t *testing.T) {
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{})
	})
	dir := t.TempDir()
	closer, err := Setup(config.LoggingConfig{Level: "debug", Format: "json", File: filepath.Join(dir, "logs", "antihub.log")})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer closer.Close()
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("level = %s, want debug", log.GetLevel())
	}
	if _, ok := log.StandardLogger().Formatter.(*log.JSONFormatter); !ok {
		t.Fatalf("expected json formatter")
	}
	log.Info("hello")
	if _, errStat := os.Stat(filepath.Join(dir, "logs", "antihub.log")); errStat != nil {
		t.Fatalf("log file not written: %v", errStat)
	}

	if _, errBad := Setup(config.LoggingConfig{Level: "loud"}); errBad == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestRequestIDAndAccessLog(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hook := test.NewGlobal()
	defer hook.Reset()

	var seen string
	r := gin.New()
	r.Use(RequestID(), AccessLog())
	r.GET("/api/quotas/user", func(c *gin.Context) {
		seen = GetRequestID(c)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/quotas/user?api_key=ah_0123456789abcdef", nil)
	req.Header.Set(RequestIDHeader, "req-abc")
	r.ServeHTTP(w, req)

	if seen != "req-abc" || w.Header().Get(RequestIDHeader) != "req-abc" {
		t.Fatalf("request id not propagated: seen=%q header=%q", seen, w.Header().Get(RequestIDHeader))
	}
	entry := hook.LastEntry()
	if entry == nil {
		t.Fatalf("expected access log entry")
	}
	if entry.Data["status"] != http.StatusNoContent || entry.Data["request_id"] != "req-abc" {
		t.Fatalf("unexpected entry fields: %v", entry.Data)
	}
	if entry.Data["query"] != "api_key=ah_0...cdef" {
		t.Fatalf("query not masked: %v", entry.Data["query"])
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/quotas/user", nil))
	if len(w.Header().Get(RequestIDHeader)) != 36 {
		t.Fatalf("expected generated uuid, got %q", w.Header().Get(RequestIDHeader))
	}
}

func TestRecoveryReturns500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hook := test.NewGlobal()
	defer hook.Reset()

	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if hook.LastEntry() == nil || hook.LastEntry().Level != log.ErrorLevel {
		t.Fatalf("expected panic to be logged at error level")
	}
}
