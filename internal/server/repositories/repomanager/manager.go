// Package repomanager opens the configured account store backend and
// prepares its schema.
package repomanager

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/accounts"
)

// Backend names accepted by New.
const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

type RepositoryManager interface {
	// RunMigrations brings the backend schema (tables or indexes) up to date.
	RunMigrations(ctx context.Context) error
	Accounts() accounts.Repository
	Close(ctx context.Context) error
}

// Options select and locate the backend.
type Options struct {
	Backend       string
	DatabaseDSN   string
	MongoURI      string
	MongoDatabase string
}

// New connects to the backend named in opts.
func New(ctx context.Context, opts Options) (RepositoryManager, error) {
	switch opts.Backend {
	case BackendPostgres:
		db, err := openPostgres(ctx, opts.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return NewPostgresRepositoryManager(db)
	case BackendMongo:
		client, err := connectMongo(ctx, opts.MongoURI)
		if err != nil {
			return nil, err
		}
		return NewMongoRepositoryManager(client, opts.MongoDatabase), nil
	case BackendMemory:
		return NewMemoryRepositoryManager(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
