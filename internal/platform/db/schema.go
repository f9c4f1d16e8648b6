package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// SchemaSQL returns the bootstrap DDL applied by EnsureSchema.
func SchemaSQL() string { return schemaSQL }

// EnsureSchema creates the service tables and indexes when they are missing.
// Every statement is idempotent so it is safe to run on each start.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
