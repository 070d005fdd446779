// Package postgres implements the store interface for PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/juju/errors"
	"github.com/lib/pq"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/store"
)

const pingTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS subjects (
	id       BIGSERIAL,
	net      TEXT NOT NULL,
	address  TEXT NOT NULL,
	added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (net, address)
);
CREATE TABLE IF NOT EXISTS filter_lists (
	net       TEXT PRIMARY KEY,
	allowlist TEXT[] NOT NULL,
	denylist  TEXT[] NOT NULL
);`

// Postgres implements store.DB.
type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connected to the database in connection and creates the tables if needed.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, errors.Annotate(err, "postgres: open")
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, errors.Annotate(err, "postgres: ping")
	}

	if _, err = db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()

		return nil, errors.Annotate(err, "postgres: creating schema")
	}

	return &Postgres{db: db}, nil
}

// Close will close the database connection. Must be called at termination time.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// AddSubject implements store.DB.
func (p *Postgres) AddSubject(ctx context.Context, net, addr string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO subjects (net, address) VALUES ($1, $2) ON CONFLICT DO NOTHING`, net, addr)

	return errors.Annotatef(err, "postgres: inserting subject %q", addr)
}

// RemoveSubject implements store.DB.
func (p *Postgres) RemoveSubject(ctx context.Context, net, addr string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM subjects WHERE net = $1 AND address = $2`, net, addr)
	if err != nil {
		return errors.Trace(err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrSubjectNotFound
	}

	return nil
}

// GetSubjects implements store.DB.
func (p *Postgres) GetSubjects(ctx context.Context, net string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT address FROM subjects WHERE net = $1 ORDER BY id`, net)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()

	out := []string{}

	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, errors.Trace(err)
		}

		out = append(out, a)
	}

	return out, errors.Trace(rows.Err())
}

// SaveLists implements store.DB.
func (p *Postgres) SaveLists(ctx context.Context, net string, l model.FilterLists) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO filter_lists (net, allowlist, denylist) VALUES ($1, $2, $3)
		ON CONFLICT (net) DO UPDATE SET allowlist = EXCLUDED.allowlist, denylist = EXCLUDED.denylist`,
		net, pq.Array(nonNil(l.Allowlist)), pq.Array(nonNil(l.Denylist)))

	return errors.Trace(err)
}

// LoadLists implements store.DB.
func (p *Postgres) LoadLists(ctx context.Context, net string) (model.FilterLists, error) {
	var l model.FilterLists

	err := p.db.QueryRowContext(ctx, `SELECT allowlist, denylist FROM filter_lists WHERE net = $1`, net).
		Scan(pq.Array(&l.Allowlist), pq.Array(&l.Denylist))
	if errors.Is(err, sql.ErrNoRows) {
		return model.FilterLists{}, store.ErrDataNotFound
	}

	return l, errors.Trace(err)
}

func (p *Postgres) drop(ctx context.Context, net string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM subjects WHERE net LIKE $1 || '%'`, net); err != nil {
		return errors.Trace(err)
	}

	_, err := p.db.ExecContext(ctx, `DELETE FROM filter_lists WHERE net LIKE $1 || '%'`, net)

	return errors.Trace(err)
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}

	return ss
}
