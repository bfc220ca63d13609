package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/TriageLedger/internal/auditledger"
)

// openStore opens the backend named by storage.driver. The returned func
// releases it.
func openStore(ctx context.Context, cfg *viper.Viper, logger *zap.Logger) (auditledger.Store, func(), error) {
	switch driver := cfg.GetString("storage.driver"); driver {
	case "memory":
		logger.Warn("using in-memory storage; the ledger is lost on restart")
		return auditledger.NewMemoryStore(), func() {}, nil

	case "postgres":
		db, err := pgxpool.New(ctx, cfg.GetString("database.url"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		return auditledger.NewPostgresStore(db, logger), db.Close, nil

	case "sqlite":
		path := cfg.GetString("sqlite.path")
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		s, err := auditledger.OpenSQLite(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("opened sqlite store", zap.String("path", path))
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("close sqlite", zap.Error(err))
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage.driver %q (want memory, postgres or sqlite)", driver)
	}
}
