package store

import (
	"testing"
)

func TestOpenMemory(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
}

func TestOpenFile(t *testing.T) {
	path := t.TempDir() + "/nested/recall.db"
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if db.Path != path {
		t.Errorf("Path = %q, want %q", db.Path, path)
	}
}

func TestSchemaVersion(t *testing.T) {
	db := testDB(t)

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 3 {
		t.Errorf("SchemaVersion = %d, want 3", v)
	}
}

func TestTablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"schema_versions", "nodes", "edges", "vectors"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestNodesConstraints(t *testing.T) {
	db := testDB(t)

	_, err := db.Exec(`
		INSERT INTO nodes (id, kind, content, created_at, updated_at)
		VALUES ('n1', 'fact', 'x', 1000, 1000)
	`)
	if err != nil {
		t.Fatalf("valid insert failed: %v", err)
	}

	_, err = db.Exec(`
		INSERT INTO nodes (id, kind, created_at, updated_at)
		VALUES ('n2', 'widget', 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for invalid kind, got nil")
	}

	_, err = db.Exec(`
		INSERT INTO nodes (id, kind, access_score, created_at, updated_at)
		VALUES ('n3', 'fact', -1, 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for negative access_score, got nil")
	}
}

func TestEdgesConstraints(t *testing.T) {
	db := testDB(t)

	for _, id := range []string{"a", "b"} {
		if _, err := db.Exec(`INSERT INTO nodes (id, kind, created_at, updated_at) VALUES (?, 'entity', 1, 1)`, id); err != nil {
			t.Fatalf("insert node %s: %v", id, err)
		}
	}

	tests := []struct {
		name    string
		sql     string
		wantErr bool
	}{
		{"valid", `INSERT INTO edges VALUES ('e1', 'a', 'b', 'causes', 0.5, 1)`, false},
		{"self loop", `INSERT INTO edges VALUES ('e2', 'a', 'a', 'causes', 0.5, 1)`, true},
		{"weight above one", `INSERT INTO edges VALUES ('e3', 'a', 'b', 'is_a', 1.5, 1)`, true},
		{"duplicate triple", `INSERT INTO edges VALUES ('e4', 'a', 'b', 'causes', 0.9, 1)`, true},
		{"dangling target", `INSERT INTO edges VALUES ('e5', 'a', 'zz', 'causes', 0.5, 1)`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.Exec(tt.sql)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db := testDB(t)

	// Running migrate again should be a no-op
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 3 {
		t.Errorf("SchemaVersion after re-migrate = %d, want 3", v)
	}
}

func TestWALMode(t *testing.T) {
	db := testDB(t)

	var mode string
	err := db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	if err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	// In-memory databases may use "memory" mode instead of WAL
	if mode != "wal" && mode != "memory" {
		t.Errorf("journal_mode = %q, want wal or memory", mode)
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	db := testDB(t)

	var fk int
	err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk)
	if err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
