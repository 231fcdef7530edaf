package data

import (
	"context"
	"database/sql"

	"github.com/junghoonshin3/bemypet/internal/migrate"
)

// RunMigrations applies the session journal schema by delegating to the migrate package.
// It returns the versions applied by this call.
func RunMigrations(ctx context.Context, db *sql.DB) ([]string, error) {
	return migrate.Run(ctx, db)
}
