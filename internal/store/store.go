// Package store persists what a harvest produces: credentials, the account
// holder identity and bill records.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
	"github.com/xkilldash9x/telco-harvester/internal/config"
)

// SaveOptions qualify a SaveBills call.
type SaveOptions struct {
	// DedupeKeys name the record attributes identifying a saved bill, among
	// "subPath", "filename", "vendor" and "date".
	DedupeKeys         []string
	ContentType        string
	QualificationLabel string
	SubPath            string
}

// Key returns the dedupe identity of r under o.
func (o SaveOptions) Key(r schemas.BillRecord) string {
	keys := o.DedupeKeys
	if len(keys) == 0 {
		keys = []string{"filename"}
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch k {
		case "subPath":
			sub := r.SubPath
			if sub == "" {
				sub = o.SubPath
			}
			parts = append(parts, sub)
		case "filename":
			parts = append(parts, r.Filename)
		case "vendor":
			parts = append(parts, r.Vendor)
		case "date":
			parts = append(parts, r.Date.String())
		default:
			parts = append(parts, "")
		}
	}
	return strings.Join(parts, "/")
}

// Sink receives the harvest output.
type Sink interface {
	SaveCredentials(ctx context.Context, creds schemas.Credentials) error
	SaveIdentity(ctx context.Context, account string, identity schemas.UserIdentity) error
	// SaveBills stores the records not already present under their dedupe
	// key and returns how many were new.
	SaveBills(ctx context.Context, account string, records []schemas.BillRecord, opts SaveOptions) (int, error)
}

// CredentialStore returns previously saved credentials. An empty login
// selects the most recently saved ones. Nil without error means none.
type CredentialStore interface {
	GetCredentials(ctx context.Context, login string) (*schemas.Credentials, error)
}

// Vault is a Sink that can also hand back credentials.
type Vault interface {
	Sink
	CredentialStore
	Close()
}

// Open builds the vault configured by cfg.Database, wrapped with object
// storage uploads when cfg.Storage is enabled.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Vault, error) {
	var v Vault
	switch cfg.Database.Driver {
	case "memory":
		v = NewMemory()
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		pg, err := New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		pg.closer = pool.Close
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		v = pg
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	if !cfg.Storage.Enabled {
		return v, nil
	}
	objects, err := NewMinioObjects(cfg.Storage)
	if err != nil {
		v.Close()
		return nil, err
	}
	blobs := NewBlobVault(v, objects, cfg.Storage, logger)
	if err := blobs.EnsureBucket(ctx); err != nil {
		v.Close()
		return nil, err
	}
	return blobs, nil
}
