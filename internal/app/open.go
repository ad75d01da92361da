package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/grimoire/internal/mongostore"
	"github.com/roach88/grimoire/internal/sqlitestore"
	"github.com/roach88/grimoire/internal/store"
)

// DefaultDatabase is used when a MongoDB DSN names no database.
const DefaultDatabase = "grimoire"

// IsMongoDSN reports whether dsn addresses MongoDB.
func IsMongoDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "mongodb://") || strings.HasPrefix(dsn, "mongodb+srv://")
}

// OpenStore opens the store dsn names: MongoDB for mongodb:// URIs, a
// SQLite file otherwise.
func OpenStore(ctx context.Context, dsn string, timeout time.Duration) (store.Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store dsn is empty")
	}
	if !IsMongoDSN(dsn) {
		return sqlitestore.Open(dsn)
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mongodb dsn: %w", err)
	}
	database := strings.TrimPrefix(u.Path, "/")
	if database == "" {
		database = DefaultDatabase
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return mongostore.Open(ctx, dsn, database)
}
