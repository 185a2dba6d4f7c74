package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Open connects to the store selected by driver and brings its schema up
// to date. The returned func releases the connection.
func Open(ctx context.Context, driver, url string) (Store, func(), error) {
	switch driver {
	case "postgres":
		db, err := New(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return NewRepository(db), db.Close, nil

	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(url), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		store, err := NewSQLiteStore(url)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
