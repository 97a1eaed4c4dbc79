package payload

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SQLDialect picks the placeholder syntax a driver expects: lib/pq
// wants $1-style numbered parameters, go-sqlite3 wants plain ?.
type SQLDialect int

const (
	DialectPostgres SQLDialect = iota
	DialectSQLite
)

// SQLStore is the "relational (upsert by primary key)" BlobStore
// implementation from spec.md §4.5, grounded on the teacher's
// internal/job-budgeting.CostAggregator.upsertDailyAggregate's
// `INSERT ... ON CONFLICT (...) DO UPDATE` idiom against
// database/sql + lib/pq. Extended here with a Dialect so the same
// store works unmodified against lib/pq (production Postgres) and
// go-sqlite3 (tests, single-node deployments) without duplicating the
// upsert logic.
type SQLStore struct {
	db      *sql.DB
	table   string
	dialect SQLDialect
}

// NewSQLStore wraps an already-open *sql.DB. The table must have
// columns (key text primary key, data_base64 text). dialect selects
// the driver's parameter placeholder syntax.
func NewSQLStore(db *sql.DB, table string, dialect SQLDialect) *SQLStore {
	return &SQLStore{db: db, table: table, dialect: dialect}
}

func (s *SQLStore) placeholder(n int) string {
	if s.dialect == DialectSQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

func (s *SQLStore) Store(ctx context.Context, key string, data []byte) (string, error) {
	var query string
	if s.dialect == DialectSQLite {
		query = fmt.Sprintf(`INSERT INTO %s (key, data_base64) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET data_base64 = excluded.data_base64`, s.table)
	} else {
		query = fmt.Sprintf(`INSERT INTO %s (key, data_base64) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET data_base64 = EXCLUDED.data_base64`, s.table)
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	if _, err := s.db.ExecContext(ctx, query, key, encoded); err != nil {
		return "", fmt.Errorf("upsert blob %s: %w", key, err)
	}
	return key, nil
}

func (s *SQLStore) Fetch(ctx context.Context, key string) ([]byte, bool, error) {
	query := fmt.Sprintf(`SELECT data_base64 FROM %s WHERE key = %s`, s.table, s.placeholder(1))
	var encoded string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Delete is idempotent: DELETE on a missing key affects zero rows and
// returns no error.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = %s`, s.table, s.placeholder(1))
	_, err := s.db.ExecContext(ctx, query, key)
	return err
}

func (s *SQLStore) Exists(ctx context.Context, key string) (bool, error) {
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE key = %s`, s.table, s.placeholder(1))
	var discard int
	err := s.db.QueryRowContext(ctx, query, key).Scan(&discard)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLStore) GenerateKey() string { return uuid.NewString() }
func (s *SQLStore) Name() string        { return "sql" }
