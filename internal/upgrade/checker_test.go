package upgrade

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func TestFormatError(t *testing.T) {
	tests := []struct {
		name string
		s    SchemaStatus
		want string
	}{
		{"dirty", SchemaStatus{CurrentVersion: 3, Dirty: true}, "migrate force 2"},
		{"ahead", SchemaStatus{CurrentVersion: 5, RequiredVersion: 1}, "newer than this binary"},
		{"outdated", SchemaStatus{CurrentVersion: 0, RequiredVersion: 1}, "inboxd migrate up"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatError(&tt.s); !strings.Contains(got, tt.want) {
				t.Errorf("FormatError(%+v) = %q, want containing %q", tt.s, got, tt.want)
			}
		})
	}
}

func TestCheckSchema(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "schema.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	s, err := CheckSchema(ctx, db)
	if err != nil {
		t.Fatalf("CheckSchema() error = %v", err)
	}
	if !s.NeedsMigration || s.Compatible {
		t.Errorf("fresh db status = %+v, want NeedsMigration", s)
	}

	if _, err := db.Exec(`CREATE TABLE schema_migrations (version INTEGER, dirty BOOLEAN)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	tests := []struct {
		version    uint
		dirty      bool
		compatible bool
	}{
		{RequiredSchemaVersion, false, true},
		{RequiredSchemaVersion, true, false},
		{RequiredSchemaVersion + 1, false, false},
	}
	for _, tt := range tests {
		db.Exec(`DELETE FROM schema_migrations`)
		if _, err := db.Exec(`INSERT INTO schema_migrations VALUES (?, ?)`, tt.version, tt.dirty); err != nil {
			t.Fatalf("insert: %v", err)
		}
		s, err := CheckSchema(ctx, db)
		if err != nil {
			t.Fatalf("CheckSchema() error = %v", err)
		}
		if s.Compatible != tt.compatible || s.Dirty != tt.dirty || s.CurrentVersion != tt.version {
			t.Errorf("CheckSchema(v%d dirty=%v) = %+v", tt.version, tt.dirty, s)
		}
	}
}
