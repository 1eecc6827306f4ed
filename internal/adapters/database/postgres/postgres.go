package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

type Options struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	// DSN overrides all other fields when set
	DSN   string
	Debug bool
}

// ConnString returns a libpq style connection string understood by both pgx and lib/pq
func (o Options) ConnString() string {
	if o.DSN != "" {
		return o.DSN
	}
	sslMode := o.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("user=%s password=%s dbname=%s host=%s port=%d sslmode=%s TimeZone=UTC",
		o.User,
		o.Password,
		o.Name,
		o.Host,
		o.Port,
		sslMode,
	)
}

// Open connects to the database and verifies the connection
func Open(ctx context.Context, opts Options) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	}
	if opts.Debug {
		gormConfig.Logger = gormLogger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			gormLogger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormLogger.Info,
				IgnoreRecordNotFoundError: true,
				Colorful:                  true,
			},
		)
	} else {
		gormConfig.Logger = gormLogger.Default.LogMode(gormLogger.Silent)
	}

	db, err := gorm.Open(postgres.Open(opts.ConnString()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err = sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Session is the long-lived database session of one daemon. It is recreated
// instead of pooled when a query fails.
type Session struct {
	mu   sync.RWMutex
	db   *gorm.DB
	opts Options
}

func NewSession(ctx context.Context, opts Options) (*Session, error) {
	db, err := Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Session{db: db, opts: opts}, nil
}

func (s *Session) DB() *gorm.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Reconnect opens a fresh connection and closes the old one
func (s *Session) Reconnect(ctx context.Context) error {
	db, err := Open(ctx, s.opts)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.db
	s.db = db
	s.mu.Unlock()

	if old != nil {
		if sqlDB, errDB := old.DB(); errDB == nil {
			_ = sqlDB.Close()
		}
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	s.db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PingContext checks the current connection
func (s *Session) PingContext(ctx context.Context) error {
	db := s.DB()
	if db == nil {
		return fmt.Errorf("session is closed")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
