package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

// Pool holds connection pool limits
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

// DefaultPool is used by New
var DefaultPool = Pool{
	MaxOpen:     20,
	MaxIdle:     2,
	MaxLifetime: time.Hour,
}

// quietLogger drops errors the application handles itself: missing records,
// and queries abandoned because the client went away
type quietLogger struct {
	zapgorm2.Logger
}

func (l *quietLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, context.Canceled) {
		return
	}
	l.Logger.Trace(ctx, begin, fc, err)
}

// New returns an instance for interacting with the PostgreSQL database
func New(logger *zap.Logger, uri string) (*gorm.DB, error) {
	return Open(logger, postgres.Open(uri), DefaultPool)
}

// Open connects through any gorm dialector
func Open(logger *zap.Logger, dialector gorm.Dialector, pool Pool) (*gorm.DB, error) {
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: &quietLogger{
			Logger: zapgorm2.Logger{
				ZapLogger:     logger,
				LogLevel:      gormlogger.Warn,
				SlowThreshold: time.Second,
			},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "Cannot connect to database")
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, errors.Wrap(err, "Cannot get the connection pool")
	}
	sqlDB.SetMaxOpenConns(pool.MaxOpen)
	sqlDB.SetMaxIdleConns(pool.MaxIdle)
	sqlDB.SetConnMaxLifetime(pool.MaxLifetime)
	return gdb, nil
}

// Ping checks that the database answers within ctx
func Ping(ctx context.Context, gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return errors.Wrap(err, "Cannot get the connection pool")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errors.Wrap(err, "Cannot ping database")
	}
	return nil
}
