package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ahrav/codereport/db"
)

// migrate applies the schema migrations, or rolls back down steps.
func (a *app) migrate(ctx context.Context, down int) error {
	if a.cfg.Dev {
		return errors.New("migrations need a database; unset dev mode")
	}

	pool, err := a.connectDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if down > 0 {
		if err := db.Rollback(pool, down); err != nil {
			return err
		}
		a.log.Info(ctx, "migrate", "status", "rolled back", "steps", down)
		return nil
	}

	if err := db.Migrate(pool); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	a.log.Info(ctx, "migrate", "status", "schema up to date")

	return nil
}
