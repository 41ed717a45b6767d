// Package migrate applies embedded SQL migrations on startup.
package migrate

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/and161185/caseflow/migrations"
)

// Up runs all pending server migrations against the PostgreSQL DSN.
func Up(ctx context.Context, dsn string, log *zap.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := goose.NewProvider(goose.DialectPostgres, db, migrations.Server())
	if err != nil {
		return err
	}
	return run(ctx, p, log)
}

// Local runs all pending desktop migrations on an open SQLite handle.
func Local(ctx context.Context, db *sql.DB, log *zap.Logger) error {
	p, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.Local())
	if err != nil {
		return err
	}
	return run(ctx, p, log)
}

func run(ctx context.Context, p *goose.Provider, log *zap.Logger) error {
	res, err := p.Up(ctx)
	if err != nil {
		return err
	}
	if log != nil {
		for _, r := range res {
			log.Info("migration applied",
				zap.Int64("version", r.Source.Version),
				zap.Duration("dur", r.Duration),
			)
		}
	}
	return nil
}
