package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"

	"github.com/ziadkadry99/vaultsearch/internal/anomaly"
	"github.com/ziadkadry99/vaultsearch/internal/audit"
	"github.com/ziadkadry99/vaultsearch/internal/blindindex"
	"github.com/ziadkadry99/vaultsearch/internal/config"
	"github.com/ziadkadry99/vaultsearch/internal/crypto"
	"github.com/ziadkadry99/vaultsearch/internal/db"
	"github.com/ziadkadry99/vaultsearch/internal/ingest"
	"github.com/ziadkadry99/vaultsearch/internal/keys"
	"github.com/ziadkadry99/vaultsearch/internal/records"
	"github.com/ziadkadry99/vaultsearch/internal/search"
)

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `vaultsearch init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the log section. --verbose
// forces debug level.
func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.Log.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Log.Format == config.LogFormatJSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

// defaultActor names the local OS user for CLI-originated ledger blocks.
func defaultActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "cli"
}

// app holds every component wired against one database and key pair.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *db.DB
	keys   keys.Provider

	engine     *crypto.Engine
	indexer    *blindindex.Indexer
	records    *records.Store
	scorer     *anomaly.Scorer
	chain      *audit.Chain
	auditStore *audit.Store
	classifier *anomaly.Classifier
	search     *search.Service
	ingester   *ingest.Ingester
	reindexer  *ingest.Reindexer
}

// openApp resolves keys, opens the database and wires the components.
// The caller must call close.
func openApp(cfg *config.Config) (*app, error) {
	logger := newLogger(cfg)

	kp, err := keys.Load(cfg.Keys)
	if err != nil {
		return nil, fmt.Errorf("loading keys: %w\nRun `vaultsearch keygen` to create a key file", err)
	}

	engine, err := crypto.NewEngine(kp)
	if err != nil {
		keys.Close(kp)
		return nil, err
	}
	indexer, err := blindindex.New(kp)
	if err != nil {
		keys.Close(kp)
		return nil, err
	}

	database, err := db.Open(cfg.DatabasePath())
	if err != nil {
		keys.Close(kp)
		return nil, fmt.Errorf("opening database: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		db:      database,
		keys:    kp,
		engine:  engine,
		indexer: indexer,
		records: records.NewStore(database),
		scorer:  anomaly.NewScorer(database),
	}
	a.chain = audit.NewChain(database, a.scorer)
	a.auditStore = audit.NewStore(database)
	a.classifier = anomaly.NewClassifier(a.scorer, a.auditStore)
	a.search = search.NewService(a.records, indexer, engine, a.chain, cfg.Search.ResultCap)
	a.ingester = ingest.NewIngester(a.records, indexer, engine, a.chain, cfg.Index.Fields)
	a.reindexer = ingest.NewReindexer(a.records, indexer, engine, a.chain, cfg.Index.Fields)

	logger.Debug("vault opened", "database", database.Path(), "index_fields", cfg.Index.Fields)
	return a, nil
}

func (a *app) close() {
	a.db.Close()
	keys.Close(a.keys)
}
