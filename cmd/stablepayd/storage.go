package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/treasuryops/stablepay/pkg/config"
	"github.com/treasuryops/stablepay/pkg/ledger"
	"github.com/treasuryops/stablepay/pkg/store"
)

// openStorage selects Postgres when DATABASE_URL is set, otherwise a local
// SQLite file. Both run through the same SQL-backed store and ledger.
func openStorage(ctx context.Context, cfg *config.Config) (store.ProposalStore, ledger.Ledger, *sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)

	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		slog.InfoContext(ctx, "storage: postgres")
	} else {
		dataDir := "data"
		if err := os.MkdirAll(dataDir, 0750); err != nil {
			return nil, nil, nil, fmt.Errorf("create data dir: %w", err)
		}
		dbPath := filepath.Join(dataDir, "stablepay.db")
		db, err = sql.Open("sqlite", dbPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		slog.InfoContext(ctx, "storage: sqlite", "path", dbPath)
	}

	st := store.NewSQLStore(db)
	if err := st.Init(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("init proposal store: %w", err)
	}
	lgr := ledger.NewSQLLedger(db)
	if err := lgr.Init(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("init attempt ledger: %w", err)
	}
	return st, lgr, db, nil
}
