package datastore

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/btsink-go/internal/errors"
)

// SQLiteStore implements Interface on a local SQLite file.
type SQLiteStore struct {
	DataStore
}

// Open connects to the SQLite database, creating the directory and
// schema as needed.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Datastore.SQLite.Path
	if path == "" {
		return errors.Newf("sqlite path is not configured").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Context("operation", "open_sqlite").
			Build()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("operation", "open_sqlite").
				Context("path", path).
				Build()
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newGormLogger(store.metrics)})
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open_sqlite").
			Context("path", path).
			Build()
	}

	store.DB = db
	if err := performAutoMigration(db, "sqlite"); err != nil {
		return err
	}
	store.log.Info("sqlite datastore ready", "path", path)
	return nil
}

// Close releases the underlying connection pool.
func (store *SQLiteStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "close_sqlite").
			Build()
	}
	return sqlDB.Close()
}
