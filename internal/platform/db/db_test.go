package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"
	"time"

	"github.com/labstack/echo/v4"
)

func TestLoad_SortsAndParsesVersions(t *testing.T) {
	files := fstest.MapFS{
		"010_badges.sql":        {Data: []byte("SELECT 10;")},
		"001_core.sql":          {Data: []byte("CREATE TABLE patient (id UUID PRIMARY KEY);")},
		"002_questionnaire.sql": {Data: []byte("SELECT 2;")},
	}

	migrations, err := NewMigrator(nil, files).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	want := []int{1, 2, 10}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("migrations[%d].Version = %d, want %d", i, migrations[i].Version, v)
		}
	}
	if migrations[0].SQL != "CREATE TABLE patient (id UUID PRIMARY KEY);" {
		t.Errorf("unexpected SQL: %s", migrations[0].SQL)
	}
}

func TestLoad_SkipsNonMigrationFiles(t *testing.T) {
	files := fstest.MapFS{
		"001_core.sql":  {Data: []byte("SELECT 1;")},
		"README.md":     {Data: []byte("docs")},
		"noprefix.sql":  {Data: []byte("SELECT 0;")},
		"abc_bad.sql":   {Data: []byte("SELECT 0;")},
		"sub/002_x.sql": {Data: []byte("SELECT 2;")},
		"embed.go":      {Data: []byte("package migrations")},
	}

	migrations, err := NewMigrator(nil, files).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(migrations) != 1 || migrations[0].Name != "001_core.sql" {
		t.Fatalf("unexpected migrations: %+v", migrations)
	}
}

func TestLoad_RejectsDuplicateVersions(t *testing.T) {
	files := fstest.MapFS{
		"003_a.sql": {Data: []byte("SELECT 1;")},
		"003_b.sql": {Data: []byte("SELECT 2;")},
	}
	if _, err := NewMigrator(nil, files).Load(); err == nil {
		t.Fatal("expected duplicate version error")
	}
}

func TestMergeStatus(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	migrations := []Migration{{Version: 1, Name: "001_core.sql"}, {Version: 2, Name: "002_alerts.sql"}}

	statuses := mergeStatus(migrations, map[int]time.Time{1: at})
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("expected migration 1 applied at %v, got %+v", at, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Errorf("expected migration 2 pending, got %+v", statuses[1])
	}
}

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Fatalf("expected nil tx, got %v", tx)
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{"healthy", nil, http.StatusOK, "healthy"},
		{"unhealthy", errors.New("connection refused"), http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := HealthHandler(fakePinger{err: tt.err}, nil)(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var body map[string]interface{}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["status"] != tt.want {
				t.Errorf("body status = %v, want %s", body["status"], tt.want)
			}
		})
	}
}
