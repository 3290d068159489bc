package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deusflow/newspick/internal/config"
	"github.com/deusflow/newspick/internal/ledger"
	"github.com/deusflow/newspick/internal/storage"
)

// OpenStore returns the ledger backend selected by LEDGER_BACKEND. The close
// function is never nil.
func OpenStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (ledger.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.LedgerBackend {
	case "postgres":
		pg, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, noop, err
		}
		return pg, pg.Close, nil
	case "file", "":
		fs := storage.NewFileStore(cfg.LedgerFilePath)
		log.Info("using file ledger", "path", fs.Path())
		return fs, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}
