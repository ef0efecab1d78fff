package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/dalemusser/rollchart/internal/app/system/chartview"
	"github.com/dalemusser/rollchart/internal/app/system/viewsession"
	"github.com/dalemusser/rollchart/internal/domain/models"
	"github.com/dalemusser/rollchart/internal/testutil"
	"github.com/dalemusser/waffle/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func validAppConfig() AppConfig {
	return AppConfig{
		MongoURI:            "mongodb://localhost:27017",
		MongoDatabase:       "rollchart_test",
		MongoMaxPoolSize:    10,
		MongoMinPoolSize:    1,
		MongoConnectTimeout: time.Second,
		SessionKey:          "0123456789abcdef0123456789abcdef",
		SessionName:         "rollchart-session",
		ViewFetchTimeout:    time.Second,
		ViewIdleTimeout:     time.Minute,
		ViewSweepInterval:   time.Second,
		SettleTimeout:       5 * time.Second,
		ViewOpenLimit:       10,
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		mutate  func(*AppConfig)
		wantErr bool
	}{
		{"valid", "dev", func(*AppConfig) {}, false},
		{"bad uri", "dev", func(c *AppConfig) { c.MongoURI = "http://localhost" }, true},
		{"no database", "dev", func(c *AppConfig) { c.MongoDatabase = "" }, true},
		{"pool sizes inverted", "dev", func(c *AppConfig) { c.MongoMinPoolSize = 50 }, true},
		{"short session key", "dev", func(c *AppConfig) { c.SessionKey = "short" }, true},
		{"dev key in prod", "prod", func(c *AppConfig) {
			c.SessionKey = "dev-only-change-me-please-0123456789ABCDEF"
		}, true},
		{"dev key in dev", "dev", func(c *AppConfig) {
			c.SessionKey = "dev-only-change-me-please-0123456789ABCDEF"
		}, false},
		{"zero fetch timeout", "dev", func(c *AppConfig) { c.ViewFetchTimeout = 0 }, true},
		{"negative sweep interval", "dev", func(c *AppConfig) { c.ViewSweepInterval = -time.Second }, true},
		{"zero open limit", "dev", func(c *AppConfig) { c.ViewOpenLimit = 0 }, true},
		{"settle shorter than fetch", "dev", func(c *AppConfig) { c.SettleTimeout = time.Millisecond }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAppConfig()
			tt.mutate(&cfg)
			err := ValidateConfig(&config.CoreConfig{Env: tt.env}, cfg, testLogger())
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	tests := map[string][]string{
		"":                          nil,
		" , ":                       nil,
		"https://a.example":         {"https://a.example"},
		"https://a.example, b.test": {"https://a.example", "b.test"},
	}
	for in, want := range tests {
		if got := splitList(in); !reflect.DeepEqual(got, want) {
			t.Errorf("splitList(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConnectDB_InvalidURI(t *testing.T) {
	cfg := validAppConfig()
	cfg.MongoURI = "not-a-mongo-uri"

	if _, err := ConnectDB(context.Background(), &config.CoreConfig{}, cfg, testLogger()); err == nil {
		t.Fatal("expected error for invalid URI")
	}
}

func TestEnsureSchema(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	deps := DBDeps{MongoClient: db.Client(), MongoDatabase: db}
	if err := EnsureSchema(ctx, &config.CoreConfig{}, validAppConfig(), deps, testLogger()); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	cur, err := db.Collection("chart").Indexes().List(ctx)
	if err != nil {
		t.Fatalf("list indexes: %v", err)
	}
	var idx []bson.M
	if err := cur.All(ctx, &idx); err != nil {
		t.Fatalf("decode indexes: %v", err)
	}
	// _id plus the two chart indexes.
	if len(idx) != 3 {
		t.Errorf("expected 3 indexes, got %d", len(idx))
	}
}

type staticSource []models.ChartRecord

func (s staticSource) Find(_ context.Context, classID string, f models.ChartFilter) ([]models.ChartRecord, error) {
	var out []models.ChartRecord
	for _, rec := range s {
		if rec.Class == classID && (f.Date == "" || rec.Date == f.Date) && (f.Period == "" || rec.Period == f.Period) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func TestNewRouter_MountsChart(t *testing.T) {
	src := staticSource{{Class: "7a", Date: "2024-01-02", Period: "1", List: []models.StudentMark{{Roll: 1, Name: "Asha"}}}}
	cfg := validAppConfig()

	svc = newServices(src, cfg, testLogger())
	t.Cleanup(func() {
		svc.cleanup.Stop()
		svc.views.Close()
		svc.opens.Stop()
		svc = nil
	})

	sessions, err := viewsession.New(cfg.SessionKey, cfg.SessionName, "", false, testLogger())
	if err != nil {
		t.Fatalf("viewsession.New: %v", err)
	}
	r := newRouter(DBDeps{}, sessions, cfg, testLogger())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/classes/7a/chart/state", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}

	var s chartview.State
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(s.Rows) != 1 || s.Rows[0].Name != "Asha" {
		t.Errorf("Rows = %+v, want Asha", s.Rows)
	}
}

func TestBuildHandler_RequiresStartup(t *testing.T) {
	svc = nil
	if _, err := BuildHandler(&config.CoreConfig{}, validAppConfig(), DBDeps{}, testLogger()); err == nil {
		t.Fatal("expected error when Startup has not run")
	}
}

func TestShutdown_WithoutStartup(t *testing.T) {
	svc = nil
	if err := Shutdown(context.Background(), &config.CoreConfig{}, validAppConfig(), DBDeps{}, testLogger()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
