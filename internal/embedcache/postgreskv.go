package embedcache

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/codeindex-dev/codeindex/internal/errs"
)

// PostgresKV is the relational tier-2 implementation. mysql/mssql would
// share this exact shape against their own database/sql driver; neither
// driver appears anywhere in the retrieval pack, so only this one and
// SQLiteKV are implemented (see DESIGN.md).
type PostgresKV struct {
	db *sql.DB
}

// NewPostgresKV opens (and migrates) the cache table against an existing
// *sql.DB, mirroring the pattern of taking an already-configured
// connection pool rather than owning DSN parsing itself.
func NewPostgresKV(db *sql.DB) (*PostgresKV, error) {
	const schema = `
	CREATE TABLE IF NOT EXISTS embedding_cache (
		key TEXT PRIMARY KEY,
		vector BYTEA NOT NULL,
		created_at TIMESTAMPTZ DEFAULT now()
	);`
	if _, err := db.Exec(schema); err != nil {
		return nil, errs.Wrap(errs.KindIO, "embedcache.postgres", "failed to create schema", err)
	}
	return &PostgresKV{db: db}, nil
}

func (p *PostgresKV) Get(ctx context.Context, key string) ([]float32, bool, error) {
	var blob []byte
	err := p.db.QueryRowContext(ctx, `SELECT vector FROM embedding_cache WHERE key = $1`, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.KindIO, "embedcache.postgres", "lookup failed", err)
	}
	return decodeVector(blob), true, nil
}

func (p *PostgresKV) Put(ctx context.Context, key string, vector []float32) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO embedding_cache (key, vector) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET vector = excluded.vector`,
		key, encodeVector(vector))
	if err != nil {
		return errs.Wrap(errs.KindIO, "embedcache.postgres", "write failed", err)
	}
	return nil
}

func (p *PostgresKV) Close() error {
	return p.db.Close()
}

var _ Tier2 = (*PostgresKV)(nil)
