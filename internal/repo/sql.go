package repo

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour of a SQLStore.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStore implements Store over database/sql. Queries are written with '?'
// placeholders and rebound for Postgres. Timestamps are stored as unix
// milliseconds so both engines compare them the same way.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ Store = (*SQLStore)(nil)

// PostgresConfig holds the connection settings for the Postgres dialect.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// DSN builds a postgres URL, escaping credentials and the database name.
func (c PostgresConfig) DSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	ssl := c.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	q.Set("sslmode", ssl)
	u.RawQuery = q.Encode()
	return u.String()
}

// OpenSQL connects, verifies the connection and ensures the schema.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	driver := "pgx"
	if dialect == DialectSQLite {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if dialect == DialectSQLite {
		// sqlite serializes writers; one connection keeps transactions from
		// tripping over SQLITE_BUSY and makes :memory: databases usable.
		db.SetMaxOpenConns(1)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	s := &SQLStore{db: db, dialect: dialect, now: time.Now}
	if err := s.ensureSchema(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Close() error                   { return s.db.Close() }
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// q rebinds '?' placeholders for the active dialect.
func (s *SQLStore) q(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	pk := "BIGSERIAL PRIMARY KEY"
	floatType := "DOUBLE PRECISION"
	if s.dialect == DialectSQLite {
		pk = "INTEGER PRIMARY KEY AUTOINCREMENT"
		floatType = "REAL"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS items (
    id ` + pk + `,
    torrent_id TEXT NOT NULL DEFAULT '',
    info_hash TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    size BIGINT NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    discount TEXT NOT NULL DEFAULT '',
    discount_end BIGINT,
    hit_and_run BOOLEAN NOT NULL DEFAULT FALSE,
    account_id BIGINT NOT NULL DEFAULT 0,
    client_id BIGINT NOT NULL DEFAULT 0,
    rule_id BIGINT,
    save_path TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS items_status_idx ON items (status, discount_end)`,
		`CREATE TABLE IF NOT EXISTS rules (
    id ` + pk + `,
    name TEXT NOT NULL,
    enabled BOOLEAN NOT NULL DEFAULT TRUE,
    sort_order INTEGER NOT NULL DEFAULT 0,
    definition TEXT NOT NULL,
    created_at BIGINT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS clients (
    id ` + pk + `,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    host TEXT NOT NULL,
    port INTEGER NOT NULL,
    username TEXT NOT NULL DEFAULT '',
    password TEXT NOT NULL DEFAULT '',
    use_ssl BOOLEAN NOT NULL DEFAULT FALSE,
    is_default BOOLEAN NOT NULL DEFAULT FALSE,
    download_dir TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS accounts (
    id ` + pk + `,
    site_name TEXT NOT NULL DEFAULT '',
    site_url TEXT NOT NULL,
    username TEXT NOT NULL DEFAULT '',
    cookie TEXT NOT NULL DEFAULT '',
    passkey TEXT NOT NULL DEFAULT '',
    uid TEXT NOT NULL DEFAULT '',
    uploaded BIGINT NOT NULL DEFAULT 0,
    downloaded BIGINT NOT NULL DEFAULT 0,
    ratio ` + floatType + ` NOT NULL DEFAULT 0,
    bonus ` + floatType + ` NOT NULL DEFAULT 0,
    user_class TEXT NOT NULL DEFAULT '',
    active BOOLEAN NOT NULL DEFAULT TRUE,
    last_refresh BIGINT,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS settings (
    name TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS hit_and_runs (
    id ` + pk + `,
    account_id BIGINT NOT NULL,
    hr_id BIGINT NOT NULL,
    torrent_id TEXT NOT NULL DEFAULT '',
    torrent_name TEXT NOT NULL DEFAULT '',
    uploaded BIGINT NOT NULL DEFAULT 0,
    downloaded BIGINT NOT NULL DEFAULT 0,
    share_ratio TEXT NOT NULL DEFAULT '',
    seed_time_required TEXT NOT NULL DEFAULT '',
    completed_at TEXT NOT NULL DEFAULT '',
    inspect_time_left TEXT NOT NULL DEFAULT '',
    comment TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    updated_at BIGINT NOT NULL,
    UNIQUE (account_id, hr_id)
)`,
		`CREATE TABLE IF NOT EXISTS stats_snapshots (
    id ` + pk + `,
    account_id BIGINT NOT NULL DEFAULT 0,
    uploaded BIGINT NOT NULL DEFAULT 0,
    downloaded BIGINT NOT NULL DEFAULT 0,
    upload_speed BIGINT NOT NULL DEFAULT 0,
    download_speed BIGINT NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL
)`,
	}
	for _, st := range stmts {
		if _, err := s.db.ExecContext(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64)
	return &t
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "unique constraint")
}
