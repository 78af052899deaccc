package embedcache

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codeindex-dev/codeindex/internal/errs"
)

// SQLiteKV is the file-embedded tier-2 implementation, grounded on the
// same WAL/busy-timeout/cache-size DSN tuning a pooled sqlite store
// needs under concurrent readers and writers.
type SQLiteKV struct {
	db *sql.DB
}

// NewSQLiteKV opens (and migrates) the cache database at path.
func NewSQLiteKV(path string) (*SQLiteKV, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_cache_size=-2000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "embedcache.sqlite", "failed to open database", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(2 * time.Hour)

	const schema = `
	CREATE TABLE IF NOT EXISTS embedding_cache (
		key TEXT PRIMARY KEY,
		vector BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindIO, "embedcache.sqlite", "failed to create schema", err)
	}
	return &SQLiteKV{db: db}, nil
}

func (s *SQLiteKV) Get(ctx context.Context, key string) ([]float32, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT vector FROM embedding_cache WHERE key = ?`, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.KindIO, "embedcache.sqlite", "lookup failed", err)
	}
	return decodeVector(blob), true, nil
}

func (s *SQLiteKV) Put(ctx context.Context, key string, vector []float32) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embedding_cache (key, vector) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET vector = excluded.vector`,
		key, encodeVector(vector))
	if err != nil {
		return errs.Wrap(errs.KindIO, "embedcache.sqlite", "write failed", err)
	}
	return nil
}

func (s *SQLiteKV) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

var _ Tier2 = (*SQLiteKV)(nil)
