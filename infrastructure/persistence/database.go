package persistence

import (
	"context"
	"fmt"
	"time"

	"llm-relay/domain/persistence"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type txKey struct{}

// Manager owns the GORM connection and hands out repositories. Postgres is
// the production driver; sqlite backs tests and single-node setups, where
// the pgvector column degrades to a text-encoded vector.
type Manager struct {
	db     *gorm.DB
	driver string

	requests   persistence.RequestLogRepository
	attempts   persistence.AttemptLogRepository
	embeddings persistence.EmbeddingLogRepository
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) Connect(ctx context.Context, driver, dsn string) error {
	gormLogger := logger.New(
		logrus.StandardLogger(),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	gormCfg := &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	case DriverSQLite:
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	if driver == DriverPostgres {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	} else {
		// sqlite serializes writes; a single connection avoids lock errors.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	m.db = db
	m.driver = driver
	m.requests = NewRequestLogRepository(db)
	m.attempts = NewAttemptLogRepository(db)
	m.embeddings = NewEmbeddingLogRepository(db)

	logrus.WithField("driver", driver).Info("Connected to database")
	return nil
}

func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB for close: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	logrus.Info("Database connection closed")
	return nil
}

// Migrate creates the log tables. Postgres gets hand-written DDL so the
// vector extension and partial indexes come out right; sqlite relies on
// AutoMigrate.
func (m *Manager) Migrate() error {
	if m.db == nil {
		return fmt.Errorf("database connection not established")
	}

	logrus.Info("Running database migrations...")

	if m.driver == DriverSQLite {
		if err := m.db.AutoMigrate(
			&persistence.RequestLog{},
			&persistence.AttemptLog{},
			&persistence.EmbeddingLog{},
		); err != nil {
			return fmt.Errorf("failed to migrate tables: %w", err)
		}
		logrus.Info("Database migrations completed")
		return nil
	}

	if err := m.db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
		return fmt.Errorf("failed to create pgvector extension: %w", err)
	}
	if err := m.createTables(); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if err := m.createIndexes(); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logrus.Info("Database migrations completed")
	return nil
}

func (m *Manager) createTables() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS request_logs (
			id UUID PRIMARY KEY,
			request_id VARCHAR(64) NOT NULL,
			provider VARCHAR(255),
			model VARCHAR(255),
			strategy VARCHAR(64),
			streaming BOOLEAN DEFAULT false,
			attempts INTEGER DEFAULT 0,
			prompt_tokens INTEGER DEFAULT 0,
			completion_tokens INTEGER DEFAULT 0,
			total_tokens INTEGER DEFAULT 0,
			cost_usd DECIMAL(12,6) DEFAULT 0,
			latency_ms BIGINT DEFAULT 0,
			status VARCHAR(20) NOT NULL,
			error_msg TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS attempt_logs (
			id UUID PRIMARY KEY,
			request_id VARCHAR(64) NOT NULL,
			provider VARCHAR(255),
			model VARCHAR(255),
			attempt INTEGER DEFAULT 0,
			latency_ms BIGINT DEFAULT 0,
			error_msg TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS embedding_logs (
			id UUID PRIMARY KEY,
			request_id VARCHAR(64) NOT NULL,
			provider VARCHAR(255),
			model VARCHAR(255),
			text_len INTEGER DEFAULT 0,
			dimensions INTEGER DEFAULT 0,
			latency_ms BIGINT DEFAULT 0,
			status VARCHAR(20) NOT NULL,
			error_msg TEXT,
			embedding VECTOR,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range statements {
		if err := m.db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) createIndexes() error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_request_logs_request_id ON request_logs (request_id)",
		"CREATE INDEX IF NOT EXISTS idx_request_logs_provider_created ON request_logs (provider, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_request_logs_status_created ON request_logs (status, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_attempt_logs_request_id ON attempt_logs (request_id)",
		"CREATE INDEX IF NOT EXISTS idx_attempt_logs_provider_created ON attempt_logs (provider, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_embedding_logs_request_id ON embedding_logs (request_id)",
		"CREATE INDEX IF NOT EXISTS idx_embedding_logs_provider_created ON embedding_logs (provider, created_at DESC)",
	}
	for _, index := range indexes {
		if err := m.db.Exec(index).Error; err != nil {
			logrus.WithError(err).Warnf("Failed to create index: %s", index)
		}
	}
	return nil
}

func (m *Manager) Health(ctx context.Context) error {
	if m.db == nil {
		return fmt.Errorf("database connection not established")
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func (m *Manager) Repositories() (persistence.RequestLogRepository, persistence.AttemptLogRepository, persistence.EmbeddingLogRepository) {
	return m.requests, m.attempts, m.embeddings
}

// DB exposes the GORM handle for callers that need raw queries.
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// WithTransaction runs fn inside one transaction; repositories called with
// the derived context join it automatically.
func (m *Manager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.db == nil {
		return fmt.Errorf("database connection not established")
	}

	tx := m.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	txCtx := context.WithValue(ctx, txKey{}, tx)

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil {
			logrus.WithError(rbErr).Error("Failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// dbFrom resolves the GORM handle, honoring an enclosing transaction.
func dbFrom(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return db.WithContext(ctx)
}
