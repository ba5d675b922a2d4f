// Package sqlite implements the credential repository on GORM. The default
// backend is a single embedded sqlite file; MySQL and Postgres DSNs are
// accepted for deployments that already run a database server.
package sqlite

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DB wraps the GORM handle shared by all repositories.
type DB struct {
	gorm *gorm.DB
}

// NewDB opens the embedded sqlite database at path and runs migrations.
func NewDB(path string) (*DB, error) {
	return open(sqlite.Open(path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"))
}

// NewDBFromDSN opens a server-backed database instead of the embedded file.
// driver is "mysql" or "postgres".
func NewDBFromDSN(driver, dsn string) (*DB, error) {
	switch strings.ToLower(driver) {
	case "mysql":
		return open(mysql.Open(dsn))
	case "postgres":
		return open(postgres.Open(dsn))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func open(dialector gorm.Dialector) (*DB, error) {
	g, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	d := &DB{gorm: g}
	if err := d.migrate(); err != nil {
		return nil, err
	}
	return d, nil
}

// migrate creates missing tables and columns. AutoMigrate tolerates columns
// unknown to older binaries and supplies defaults for new ones.
func (d *DB) migrate() error {
	return d.gorm.AutoMigrate(&Credential{})
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
