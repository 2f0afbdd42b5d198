package database

import (
	"database/sql"
	"fmt"
	"log"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Config holds database configuration
type Config struct {
	Path string // Path to SQLite database file, ":memory:" for a throwaway store
}

// DB wraps the GORM database instance
type DB struct {
	db   *gorm.DB
	path string
}

// NewDB opens the report store with the pure Go SQLite driver and migrates
// the schema
func NewDB(config Config, log *log.Logger) (*DB, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path is empty")
	}

	var gormLog logger.Interface
	if log != nil {
		gormLog = logger.New(
			log,
			logger.Config{
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		)
	} else {
		gormLog = logger.Default.LogMode(logger.Silent)
	}

	dialector := sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        config.Path,
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", config.Path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// one writer: the frame loop goroutine owns the store
	sqlDB.SetMaxOpenConns(1)

	if err := configureSQLite(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("configure %s: %w", config.Path, err)
	}

	if err := db.AutoMigrate(&MeasurementReport{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate %s: %w", config.Path, err)
	}

	if log != nil {
		log.Printf("Report store initialized: %s", config.Path)
	}

	return &DB{db: db, path: config.Path}, nil
}

func configureSQLite(sqlDB *sql.DB) error {
	pragmaSettings := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=memory",
	}

	for _, pragma := range pragmaSettings {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return nil
}

// GetDB returns the underlying GORM database instance
func (db *DB) GetDB() *gorm.DB {
	return db.db
}

// Reports returns a repository bound to this database
func (db *DB) Reports() *ReportRepository {
	return NewReportRepository(db.db)
}

// Path returns the DSN the database was opened with
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks if the database connection is healthy
func (db *DB) Health() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Stats returns database connection statistics
func (db *DB) Stats() sql.DBStats {
	sqlDB, _ := db.db.DB()
	return sqlDB.Stats()
}
