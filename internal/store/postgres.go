package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS credentials (
    login       TEXT PRIMARY KEY,
    password    TEXT NOT NULL,
    session_tag TEXT NOT NULL DEFAULT '',
    updated_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS identities (
    account    TEXT PRIMARY KEY,
    identity   JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS bills (
    account             TEXT NOT NULL,
    dedupe_key          TEXT NOT NULL,
    sub_path            TEXT NOT NULL DEFAULT '',
    filename            TEXT NOT NULL,
    record              JSONB NOT NULL,
    content_type        TEXT NOT NULL,
    qualification_label TEXT NOT NULL,
    saved_at            TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (account, dedupe_key)
);`

const (
	sqlUpsertCredentials = `
        INSERT INTO credentials (login, password, session_tag, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (login) DO UPDATE SET
            password = EXCLUDED.password,
            session_tag = EXCLUDED.session_tag,
            updated_at = EXCLUDED.updated_at;
    `
	sqlSelectCredentials = `
        SELECT login, password, session_tag
        FROM credentials
        WHERE $1 = '' OR login = $1
        ORDER BY updated_at DESC
        LIMIT 1;
    `
	sqlUpsertIdentity = `
        INSERT INTO identities (account, identity, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (account) DO UPDATE SET
            identity = EXCLUDED.identity,
            updated_at = EXCLUDED.updated_at;
    `
	sqlInsertBill = `
        INSERT INTO bills (account, dedupe_key, sub_path, filename, record, content_type, qualification_label, saved_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (account, dedupe_key) DO NOTHING;
    `
)

// Postgres is the PostgreSQL vault.
type Postgres struct {
	pool   DBPool
	log    *zap.Logger
	closer func()
}

var _ Vault = (*Postgres)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Migrate creates the tables if they are missing.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *Postgres) Close() {
	if s.closer != nil {
		s.closer()
	}
}

func (s *Postgres) SaveCredentials(ctx context.Context, creds schemas.Credentials) error {
	if creds.Login == "" {
		return errors.New("cannot save credentials without a login")
	}
	_, err := s.pool.Exec(ctx, sqlUpsertCredentials, creds.Login, creds.Password, creds.SessionTag, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

func (s *Postgres) GetCredentials(ctx context.Context, login string) (*schemas.Credentials, error) {
	rows, err := s.pool.Query(ctx, sqlSelectCredentials, login)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	var creds *schemas.Credentials
	for rows.Next() {
		var c schemas.Credentials
		if err := rows.Scan(&c.Login, &c.Password, &c.SessionTag); err != nil {
			return nil, fmt.Errorf("failed to scan credentials row: %w", err)
		}
		creds = &c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return creds, nil
}

func (s *Postgres) SaveIdentity(ctx context.Context, account string, identity schemas.UserIdentity) error {
	doc, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}
	if _, err := s.pool.Exec(ctx, sqlUpsertIdentity, account, doc, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}
	return nil
}

// SaveBills inserts records in one transaction. Records whose dedupe key is
// already stored for account are left untouched.
func (s *Postgres) SaveBills(ctx context.Context, account string, records []schemas.BillRecord, opts SaveOptions) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, r := range records {
		doc, err := json.Marshal(r)
		if err != nil {
			return 0, fmt.Errorf("failed to encode bill %s: %w", r.Filename, err)
		}
		subPath := r.SubPath
		if subPath == "" {
			subPath = opts.SubPath
		}
		batch.Queue(sqlInsertBill, account, opts.Key(r), subPath, r.Filename, doc, opts.ContentType, opts.QualificationLabel, now)
	}

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return 0, fmt.Errorf("failed to send batch: batch results is nil")
	}
	saved := 0
	for i := range records {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, fmt.Errorf("failed to insert bill %s (index %d): %w", records[i].Filename, i, err)
		}
		saved += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Bills saved", zap.Int("saved", saved), zap.Int("skipped", len(records)-saved))
	return saved, nil
}
