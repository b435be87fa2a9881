package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/soriano-club/clubapi/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	c, err := LoadFrom(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.AppPort != "8080" || c.DBDriver != "mysql" || c.Timezone != "UTC" {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if c.StreakMilestoneEvery != 5 || c.StreakMilestonePoints != 50 || c.QuizSize != 5 {
		t.Fatalf("unexpected loyalty defaults %+v", c)
	}
	if c.RedisEnabled {
		t.Fatalf("redis should be off without a config file")
	}
}

func TestLoadFromFileThenEnv(t *testing.T) {
	path := writeConfig(t, `{
		"app": {"AppPort": "9000", "JWTSecret": "from-file", "AdminRoles": ["ops"]},
		"database": {"Driver": "sqlite", "SQLitePath": "tmp/club.db"},
		"redis": {"Enabled": false},
		"loyalty": {"Timezone": "Europe/Madrid", "StreakMilestoneEvery": 7, "EventTimeoutSeconds": 2,
		            "EarnPoints": {"new_policy": 150}}
	}`)
	t.Setenv("APP_PORT", "9100")
	t.Setenv("LOYALTY_STREAK_MILESTONE_POINTS", "75")

	c, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.AppPort != "9100" {
		t.Fatalf("env should override the file, got %s", c.AppPort)
	}
	if c.JWTSecret != "from-file" || c.DBDriver != "sqlite" || c.RedisEnabled {
		t.Fatalf("file values lost: %+v", c)
	}
	if c.StreakMilestoneEvery != 7 || c.StreakMilestonePoints != 75 || c.EventTimeout != 2*time.Second {
		t.Fatalf("loyalty values: %+v", c)
	}
	if !c.IsAdminRole("OPS") || c.IsAdminRole("admin") {
		t.Fatalf("admin roles not taken from file")
	}

	s, err := c.LoyaltySettings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if s.Location.String() != "Europe/Madrid" || s.StreakMilestoneEvery != 7 {
		t.Fatalf("settings %+v", s)
	}
	if s.EarnDefaults[models.ActionNewPolicy] != 150 || s.EarnDefaults[models.ActionChatUsage] != 5 {
		t.Fatalf("earn defaults %v", s.EarnDefaults)
	}
}

func TestLoadFromRejectsBadInput(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadFrom(writeConfig(t, `{}`)); err == nil {
		t.Fatalf("expected an error without a JWT secret")
	}

	t.Setenv("JWT_SECRET", "x")
	if _, err := LoadFrom(writeConfig(t, `{"loyalty": {"Timezone": "Mars/Olympus"}}`)); err == nil {
		t.Fatalf("expected an error for an unknown timezone")
	}
	if _, err := LoadFrom(writeConfig(t, `{not json`)); err == nil {
		t.Fatalf("expected a decode error")
	}

	c, err := LoadFrom(writeConfig(t, `{"loyalty": {"EarnPoints": {"DAILY_LOGIN": 10}}}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := c.LoyaltySettings(); err == nil {
		t.Fatalf("expected an error for a non-earn action")
	}
}

func TestDialectorFor(t *testing.T) {
	for _, driver := range []string{"mysql", "postgres", "sqlite"} {
		d, err := dialectorFor(AppConfig{DBDriver: driver, DatabaseURI: "file::memory:", DBSQLitePath: "x.db"})
		if err != nil {
			t.Fatalf("%s: %v", driver, err)
		}
		if d.Name() != driver {
			t.Fatalf("dialector %s for driver %s", d.Name(), driver)
		}
	}
	if _, err := dialectorFor(AppConfig{DBDriver: "oracle"}); err == nil {
		t.Fatalf("expected an error for an unsupported driver")
	}
}
