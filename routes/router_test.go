package routes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/soriano-club/clubapi/config"
	"github.com/soriano-club/clubapi/models"
	"github.com/soriano-club/clubapi/services"
	"github.com/soriano-club/clubapi/utils"
)

const secret = "router-secret"

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	engine, err := services.NewEngine(services.Options{DB: db})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if err := engine.SyncCatalog(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	t.Cleanup(engine.Wait)

	cfg := config.AppConfig{
		GinMode:            "test",
		JWTSecret:          secret,
		AdminRoles:         []string{"admin", "service"},
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 60,
	}
	return SetupRouter(cfg, engine, utils.NewTokenRevocations(nil))
}

func request(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func token(t *testing.T, uid uint, role string) string {
	t.Helper()
	tok, err := utils.GenerateToken(secret, uid, role, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func TestHealthAndNotFound(t *testing.T) {
	h := newRouter(t)
	w := request(t, h, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK || w.Header().Get(utils.RequestIDHeader) == "" {
		t.Fatalf("health: %d %v", w.Code, w.Header())
	}
	w = request(t, h, http.MethodGet, "/api/v1/nope", "", "")
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "40400") {
		t.Fatalf("not found: %d %s", w.Code, w.Body.String())
	}
}

func TestLoyaltyRoutesRequireToken(t *testing.T) {
	h := newRouter(t)
	if w := request(t, h, http.MethodGet, "/api/v1/loyalty/summary", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous summary: %d", w.Code)
	}
	w := request(t, h, http.MethodGet, "/api/v1/loyalty/summary", token(t, 11, "member"), "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"tier":"BRONZE"`) {
		t.Fatalf("summary: %d %s", w.Code, w.Body.String())
	}
	w = request(t, h, http.MethodGet, "/api/v1/loyalty/rewards", token(t, 11, "member"), "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "COFFEE_VOUCHER") {
		t.Fatalf("rewards: %d %s", w.Code, w.Body.String())
	}
}

func TestInternalRoutesNeedAdminRole(t *testing.T) {
	h := newRouter(t)
	body := `{"user_id": 11, "action": "REFERRAL_CONVERSION"}`

	if w := request(t, h, http.MethodPost, "/api/v1/internal/loyalty/earn", token(t, 11, "member"), body); w.Code != http.StatusForbidden {
		t.Fatalf("member earned for themselves: %d", w.Code)
	}
	w := request(t, h, http.MethodPost, "/api/v1/internal/loyalty/earn", token(t, 0, "service"), body)
	if w.Code != http.StatusOK {
		t.Fatalf("service earn: %d %s", w.Code, w.Body.String())
	}
	w = request(t, h, http.MethodGet, "/api/v1/internal/loyalty/reconcile/11", token(t, 1, "admin"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("reconcile: %d %s", w.Code, w.Body.String())
	}
}
