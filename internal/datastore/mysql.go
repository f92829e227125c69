package datastore

import (
	"fmt"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/btsink-go/internal/errors"
)

// MySQLStore implements Interface on a MySQL server.
type MySQLStore struct {
	DataStore
}

// Open connects to the MySQL database and migrates the schema.
func (store *MySQLStore) Open() error {
	cfg := store.Settings.Datastore.MySQL

	// mysql.Config escapes credentials that would break a hand-built DSN.
	dsnCfg := mysql.Config{
		User:   cfg.Username,
		Passwd: cfg.Password,
		Net:    "tcp",
		Addr:   fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		DBName: cfg.Database,
		Params: map[string]string{
			"charset":   "utf8mb4",
			"parseTime": "True",
			"loc":       "Local",
		},
	}

	db, err := gorm.Open(gormmysql.Open(dsnCfg.FormatDSN()), &gorm.Config{Logger: newGormLogger(store.metrics)})
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open_mysql").
			Context("host", cfg.Host).
			Context("database", cfg.Database).
			Build()
	}

	store.DB = db
	if err := performAutoMigration(db, "mysql"); err != nil {
		return err
	}
	store.log.Info("mysql datastore ready", "host", cfg.Host, "database", cfg.Database)
	return nil
}

// Close releases the underlying connection pool.
func (store *MySQLStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "close_mysql").
			Build()
	}
	return sqlDB.Close()
}
