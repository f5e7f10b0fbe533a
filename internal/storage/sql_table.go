package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/latticefin/rtdb/pkg/logging"
)

// SQLTable is the pluggable external implementation of Table, standing in
// for spec.md's "external implementation loaded via a configured module".
// It is adapted from the teacher's SQLite-backed Storage: WAL journal mode,
// a single-writer connection pool (SQLite only supports one writer), one
// schema per table.
type SQLTable struct {
	name string
	db   *sql.DB
	log  *logging.Logger

	mu     sync.Mutex
	nextUN uint64
}

// SQLConfig configures a SQLite-backed table.
type SQLConfig struct {
	DataDir  string
	Durable  bool // when true, Write does not return success until the commit is fsynced (PRAGMA synchronous=FULL)
}

// OpenSQLTable opens (creating if absent) a SQLite-backed table named name
// under cfg.DataDir.
func OpenSQLTable(name string, cfg SQLConfig) (*SQLTable, error) {
	syncMode := "NORMAL"
	if cfg.Durable {
		syncMode = "FULL"
	}

	var dsn string
	if cfg.DataDir == ":memory:" {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared&_synchronous=%s", name, syncMode)
	} else {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("storage: create data dir: %w", err)
		}
		dbPath := filepath.Join(cfg.DataDir, name+".db")
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=%s&_busy_timeout=5000", dbPath, syncMode)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", name, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", name, err)
	}

	// SQLite only supports one writer; a single pooled connection avoids
	// SQLITE_BUSY under concurrent access from outside the table's owning
	// command thread (e.g. telemetry DB producers reading stats).
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	t := &SQLTable{
		name: name,
		db:   db,
		log:  logging.GetDefault().Component("storage-sql-" + name),
	}
	if err := t.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := t.loadNextUN(); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

func (t *SQLTable) initSchema() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s_rows (
		primary_key BLOB PRIMARY KEY,
		body BLOB,
		un INTEGER NOT NULL,
		tombstoned INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_%s_un ON %s_rows(un);
	`, t.name, t.name, t.name)
	_, err := t.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("storage: init schema for %s: %w", t.name, err)
	}
	return nil
}

func (t *SQLTable) loadNextUN() error {
	row := t.db.QueryRow(fmt.Sprintf("SELECT COALESCE(MAX(un), 0) FROM %s_rows", t.name))
	var maxUN uint64
	if err := row.Scan(&maxUN); err != nil {
		return fmt.Errorf("storage: load next UN for %s: %w", t.name, err)
	}
	t.nextUN = maxUN
	return nil
}

func (t *SQLTable) Name() string { return t.name }

// Count returns the number of live (non-tombstoned) rows in the table.
// keyID and keyPrefix are ignored: no per-index or prefix filtering is done.
func (t *SQLTable) Count(keyID int, keyPrefix []byte) (uint64, error) {
	row := t.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s_rows WHERE tombstoned = 0", t.name))
	var n uint64
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count %s: %w", t.name, err)
	}
	return n, nil
}

func (t *SQLTable) Find(primaryKey []byte) (*Row, bool, error) {
	row := t.db.QueryRow(fmt.Sprintf("SELECT body, un FROM %s_rows WHERE primary_key = ? AND tombstoned = 0", t.name), primaryKey)
	var body []byte
	var un uint64
	if err := row.Scan(&body, &un); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("storage: find %s: %w", t.name, err)
	}
	return &Row{PrimaryKey: primaryKey, Body: body, UN: un}, true, nil
}

// Select on SQLTable only supports primary-key ordered scans (keyID is
// ignored); secondary-index scans belong to MemTable/the in-memory cache
// layer in front of a write-back SQLTable.
func (t *SQLTable) Select(keyID int, dir Direction, inclusive bool, key []byte, mode KeyMode, limit int) ([]SelectEntry, error) {
	order := "ASC"
	cmp := ">"
	if dir == Prev {
		order = "DESC"
		cmp = "<"
	}
	if inclusive {
		cmp += "="
	}

	query := fmt.Sprintf("SELECT primary_key, body, un FROM %s_rows WHERE tombstoned = 0", t.name)
	args := []any{}
	if key != nil {
		query += fmt.Sprintf(" AND primary_key %s ?", cmp)
		args = append(args, key)
	}
	query += fmt.Sprintf(" ORDER BY primary_key %s", order)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := t.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: select %s: %w", t.name, err)
	}
	defer rows.Close()

	var out []SelectEntry
	for rows.Next() {
		var pk, body []byte
		var un uint64
		if err := rows.Scan(&pk, &body, &un); err != nil {
			return nil, fmt.Errorf("storage: scan %s: %w", t.name, err)
		}
		e := SelectEntry{Key: pk}
		if mode == RowMode {
			e.Row = &Row{PrimaryKey: pk, Body: body, UN: un}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *SQLTable) Recover(un uint64) (*Row, bool, error) {
	row := t.db.QueryRow(fmt.Sprintf("SELECT primary_key, body FROM %s_rows WHERE un = ?", t.name), un)
	var pk, body []byte
	if err := row.Scan(&pk, &body); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("storage: recover %s: %w", t.name, err)
	}
	return &Row{PrimaryKey: pk, Body: body, UN: un}, true, nil
}

func (t *SQLTable) Write(primaryKey, body []byte, tombstone bool, commit CommitFunc) error {
	t.mu.Lock()
	t.nextUN++
	un := t.nextUN
	t.mu.Unlock()

	var err error
	if tombstone {
		_, err = t.db.Exec(fmt.Sprintf("UPDATE %s_rows SET tombstoned = 1, un = ? WHERE primary_key = ?", t.name), un, primaryKey)
	} else {
		_, err = t.db.Exec(fmt.Sprintf(
			"INSERT INTO %s_rows (primary_key, body, un, tombstoned) VALUES (?, ?, ?, 0) "+
				"ON CONFLICT(primary_key) DO UPDATE SET body = excluded.body, un = excluded.un, tombstoned = 0",
			t.name), primaryKey, body, un)
	}
	if err != nil {
		err = fmt.Errorf("storage: write %s: %w", t.name, err)
		t.log.Warn("write failed", "error", err)
	}
	if commit != nil {
		commit(CommitOutcome{UN: un, Err: err})
	}
	return err
}

// Close closes the underlying database handle.
func (t *SQLTable) Close() error {
	return t.db.Close()
}
