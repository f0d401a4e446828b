package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/fatflowers/finepay/internal/models"
	cfgpkg "github.com/fatflowers/finepay/pkg/config"
	gormzap "github.com/fatflowers/finepay/pkg/gormlog"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Dialector picks the gorm dialector for the configured driver.
func Dialector(cfg cfgpkg.DBConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", DriverPostgres:
		return postgres.Open(cfg.DSN), nil
	case DriverMySQL:
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func NewDB(l *zap.SugaredLogger, cfg *cfgpkg.Config) (*gorm.DB, error) {
	if cfg.Database.DSN == "" {
		l.Error("database DSN is empty")
		return nil, gorm.ErrInvalidDB
	}
	dialector, err := Dialector(cfg.Database)
	if err != nil {
		return nil, err
	}
	gl := gormzap.New(l, gormzap.Options{SlowThreshold: time.Duration(cfg.Database.SlowQueryMs) * time.Millisecond})
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gl, TranslateError: true, NowFunc: func() time.Time { return time.Now().UTC() }})
	if err != nil {
		l.Errorf("failed to connect database: %v", err)
		return nil, err
	}
	l.Infow("connected to database", "driver", dialector.Name())
	return db, nil
}

var Module = fx.Options(
	fx.Provide(NewDB),
	fx.Invoke(AutoMigrate),
	fx.Invoke(registerDBClose),
)

// AutoMigrate runs GORM migrations on startup
func AutoMigrate(l *zap.SugaredLogger, db *gorm.DB) error {
	if err := Migrate(db); err != nil {
		l.Errorf("automigrate failed: %v", err)
		return err
	}
	l.Infow("automigrate completed")
	return nil
}

// Migrate creates or updates every table owned by the service.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Payment{},
		&models.PaymentFee{},
		&models.AuditEvent{},
	)
}

// registerDBClose ensures the underlying *sql.DB is closed on shutdown
func registerDBClose(lc fx.Lifecycle, l *zap.SugaredLogger, gdb *gorm.DB) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				l.Warnw("gorm: get sql.DB failed", "err", err)
				return nil
			}
			l.Infow("closing database connection pool")
			return sqlDB.Close()
		},
	})
}
