package main

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// openStore is a test seam for repomanager.New.
var openStore = repomanager.New

const defaultTimeout = 30 * time.Second

type rootOptions struct {
	configFile    string
	store         string
	dsn           string
	mongoURI      string
	mongoDatabase string
	timeout       time.Duration
}

// NewRootCmd creates the admin CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "authkeeper-admin",
		Short:        "Administrative tasks for the authkeeper server",
		SilenceUsage: true,
	}

	f := cmd.PersistentFlags()
	f.StringVarP(&opts.configFile, "config", "c", "", "JSON config file")
	f.StringVar(&opts.store, "store", "", "store backend: postgres, mongo or memory")
	f.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN")
	f.StringVar(&opts.mongoURI, "mongo-uri", "", "MongoDB URI")
	f.StringVar(&opts.mongoDatabase, "mongo-db", "", "MongoDB database")
	f.DurationVar(&opts.timeout, "timeout", defaultTimeout, "timeout for store operations")

	cmd.AddCommand(NewMigrateCmd(opts))
	cmd.AddCommand(NewCreateAdminCmd(opts))

	return cmd
}

// loadConfig applies defaults, then the config file, then explicit flags.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	cfg.LoadDefaults()

	if o.configFile != "" {
		if err := config.LoadFile(cfg, o.configFile); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", o.configFile).Wrap(err)
		}
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.StoreBackend, o.store)
	set(&cfg.DatabaseDSN, o.dsn)
	set(&cfg.MongoURI, o.mongoURI)
	set(&cfg.MongoDatabase, o.mongoDatabase)

	if err := cfg.Validate(); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return cfg, nil
}

func (o *rootOptions) open(ctx context.Context, cfg *config.Config) (repomanager.RepositoryManager, error) {
	rm, err := openStore(ctx, repomanager.Options{
		Backend:       cfg.StoreBackend,
		DatabaseDSN:   cfg.DatabaseDSN,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
	})
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("backend", cfg.StoreBackend).Wrap(err)
	}
	return rm, nil
}
