package dialect

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/claude-runner/internal/db"
)

func TestIsPostgres(t *testing.T) {
	if !IsPostgres(PGX) {
		t.Error("expected pgx to be postgres")
	}
	if IsPostgres(SQLite3) {
		t.Error("expected sqlite3 to not be postgres")
	}
}

func TestSerialKey(t *testing.T) {
	if got := SerialKey(PGX); got != "BIGSERIAL PRIMARY KEY" {
		t.Errorf("postgres: got %q", got)
	}
	if got := SerialKey(SQLite3); got != "INTEGER PRIMARY KEY AUTOINCREMENT" {
		t.Errorf("sqlite: got %q", got)
	}
}

func TestJSONExtract(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{SQLite3, "json_extract(usage, '$.output_tokens')"},
		{PGX, "usage::jsonb->>'output_tokens'"},
	}
	for _, tt := range tests {
		if got := JSONExtract(tt.driver, "usage", "output_tokens"); got != tt.want {
			t.Errorf("JSONExtract(%s) = %q, want %q", tt.driver, got, tt.want)
		}
	}
}

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	raw, err := db.OpenSQLite(filepath.Join(t.TempDir(), "dialect.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlxDB := sqlx.NewDb(raw, SQLite3)
	t.Cleanup(func() { _ = sqlxDB.Close() })
	return sqlxDB
}

func TestInsertReturningID_SQLite(t *testing.T) {
	sqlxDB := openTestDB(t)
	ctx := context.Background()

	if _, err := sqlxDB.Exec("CREATE TABLE items (id " + SerialKey(SQLite3) + ", name TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	first, err := InsertReturningID(ctx, sqlxDB, "INSERT INTO items (name) VALUES (?)", "a")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	second, err := InsertReturningID(ctx, sqlxDB, "INSERT INTO items (name) VALUES (?)", "b")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if first != 1 || second != 2 {
		t.Errorf("ids = %d, %d; want 1, 2", first, second)
	}
}

func TestJSONSumInt_SQLite(t *testing.T) {
	sqlxDB := openTestDB(t)

	if _, err := sqlxDB.Exec("CREATE TABLE runs (usage TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for _, usage := range []string{`{"output_tokens":20}`, `{"output_tokens":5}`, `{}`} {
		if _, err := sqlxDB.Exec("INSERT INTO runs (usage) VALUES (?)", usage); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	var total int64
	if err := sqlxDB.Get(&total, "SELECT "+JSONSumInt(SQLite3, "usage", "output_tokens")+" FROM runs"); err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 25 {
		t.Errorf("total = %d, want 25", total)
	}
}
