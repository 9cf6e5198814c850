package db

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the embedded schema; every statement is idempotent
func Migrate(ctx context.Context, database *DB) error {
	if _, err := database.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	database.log.Info("database schema applied")
	return nil
}
