package memory

import (
	"context"
	"strings"
)

// NewStore picks postgres when a database URL is configured, then SQLite
// when a file path is set, otherwise an in-memory store.
func NewStore(ctx context.Context, databaseURL, sqlitePath string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if path := strings.TrimSpace(sqlitePath); path != "" {
		return NewSQLiteStore(path)
	}
	return NewInMemoryStore(), nil
}
