package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordsSchema = `
CREATE TABLE IF NOT EXISTS records (
  kind text NOT NULL,
  id text NOT NULL,
  body bytea NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (kind, id)
)`

type PostgresBackend struct {
	DB *pgxpool.Pool
}

func NewPostgresBackend(db *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{DB: db}
}

func (p *PostgresBackend) EnsureSchema(ctx context.Context) error {
	_, err := p.DB.Exec(ctx, recordsSchema)
	return err
}

func (p *PostgresBackend) Get(ctx context.Context, key Key) ([]byte, error) {
	var body []byte
	err := p.DB.QueryRow(ctx, `
SELECT body FROM records WHERE kind=$1 AND id=$2
`, string(key.Kind), key.ID).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return body, nil
}

func (p *PostgresBackend) Put(ctx context.Context, key Key, body []byte) error {
	_, err := p.DB.Exec(ctx, `
INSERT INTO records(kind,id,body,updated_at)
VALUES($1,$2,$3,now())
ON CONFLICT (kind,id) DO UPDATE SET body=EXCLUDED.body, updated_at=now()
`, string(key.Kind), key.ID, body)
	return err
}

func (p *PostgresBackend) Append(ctx context.Context, key Key, body []byte) error {
	_, err := p.DB.Exec(ctx, `
INSERT INTO records(kind,id,body,updated_at)
VALUES($1,$2,$3,now())
ON CONFLICT (kind,id) DO UPDATE SET body=records.body || EXCLUDED.body, updated_at=now()
`, string(key.Kind), key.ID, body)
	return err
}

func (p *PostgresBackend) Delete(ctx context.Context, key Key) error {
	tag, err := p.DB.Exec(ctx, `
DELETE FROM records WHERE kind=$1 AND id=$2
`, string(key.Kind), key.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
