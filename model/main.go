// Package model is the gorm persistence layer: principals, credentials,
// plans, the credit ledger, activity records, chat sessions, and the rolling
// usage windows behind plan caps. MySQL, PostgreSQL, and SQLite are all
// supported; an empty SQL_DSN selects a local SQLite file.
package model

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/common/logger"
)

var DB *gorm.DB

// UsingMySQL / UsingPostgreSQL record the active dialect for the few spots
// where raw SQL differs between backends.
var (
	UsingMySQL      atomic.Bool
	UsingPostgreSQL atomic.Bool
	UsingSQLite     atomic.Bool
)

// InitDB opens the database selected by SQL_DSN, configures the pool,
// attaches the OpenTelemetry plugin, and runs migrations.
func InitDB() error {
	db, err := chooseDB()
	if err != nil {
		return errors.Wrap(err, "open database")
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return errors.Wrap(err, "attach gorm otel plugin")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "get underlying sql.DB")
	}
	sqlDB.SetMaxIdleConns(config.SQLMaxIdleConns)
	sqlDB.SetMaxOpenConns(config.SQLMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(config.SQLMaxLifetimeSec) * time.Second)

	DB = db
	if err := migrate(); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	logger.Logger.Info("database initialized",
		zap.Bool("mysql", UsingMySQL.Load()),
		zap.Bool("postgres", UsingPostgreSQL.Load()),
		zap.Bool("sqlite", UsingSQLite.Load()))
	return nil
}

func chooseDB() (*gorm.DB, error) {
	dsn := config.SQLDSN
	gormConfig := &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Default.LogMode(gormLogLevel()),
	}

	switch {
	case dsn == "":
		path, err := ensureSQLitePath()
		if err != nil {
			return nil, err
		}
		UsingSQLite.Store(true)
		return gorm.Open(sqlite.Open(path+"?_busy_timeout=3000"), gormConfig)
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		UsingPostgreSQL.Store(true)
		return gorm.Open(postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		}), gormConfig)
	default:
		UsingMySQL.Store(true)
		return gorm.Open(gormmysql.Open(dsn), gormConfig)
	}
}

func gormLogLevel() gormlogger.LogLevel {
	if config.DebugSQLEnabled {
		return gormlogger.Info
	}
	return gormlogger.Warn
}

// ensureSQLitePath resolves the SQLite file path and creates its parent
// directory, so a fresh deployment boots without manual setup.
func ensureSQLitePath() (string, error) {
	abs, err := filepath.Abs(config.SQLitePath)
	if err != nil {
		return "", errors.Wrapf(err, "resolve sqlite path %q", config.SQLitePath)
	}
	abs = filepath.Clean(abs)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", errors.Wrapf(err, "create sqlite directory for %q", abs)
	}
	return abs, nil
}

func migrate() error {
	return errors.Wrap(DB.AutoMigrate(
		&Principal{},
		&Plan{},
		&Credential{},
		&CreditTransaction{},
		&ActivityRecord{},
		&ChatSession{},
		&SessionMessage{},
		&UsageWindow{},
	), "auto migrate")
}

// CloseDB releases the connection pool on shutdown.
func CloseDB() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return errors.Wrap(err, "get underlying sql.DB")
	}
	return errors.Wrap(sqlDB.Close(), "close database")
}
