package database

import (
	"errors"
	"fmt"
	"net"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

// GetDB returns the connection opened by SetupDatabase
func GetDB() *gorm.DB {
	if DB == nil {
		panic("database not initialized. Call SetupDatabase first.")
	}
	return DB
}

// Models lists every table managed by AutoMigrate.
func Models() []interface{} {
	return []interface{}{
		&models.Account{},
		&models.TariffPlan{},
		&models.Publication{},
		&models.TariffAssignment{},
		&models.TopUpRequest{},
		&models.BalanceEntry{},
		&models.PublicationResponse{},
		&models.Notification{},
		&models.RateLimitWindow{},
		&models.Setting{},
	}
}

// DSN builds the MySQL data source name from the environment. Times are
// stored and parsed as UTC.
func DSN() string {
	cfg := mysqldriver.NewConfig()
	cfg.User = env.GetEnv("DB_USER", "")
	cfg.Passwd = env.GetEnv("DB_PASSWORD", "")
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(env.GetEnv("DB_HOST", "127.0.0.1"), env.GetEnv("DB_PORT", "3306"))
	cfg.DBName = env.GetEnv("DB_NAME", "")
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Collation = "utf8mb4_unicode_ci"
	return cfg.FormatDSN()
}

// Config returns the GORM configuration shared by production and tests.
func Config() *gorm.Config {
	level := logger.Warn
	if env.IsDev() {
		level = logger.Info
	}
	return &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  logger.Default.LogMode(level),
	}
}

func SetupDatabase() {
	var err error
	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       DSN(),
			DefaultStringSize:         191,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), Config())
		if err == nil {
			if env.GetEnvBool("DB_AUTO_MIGRATE", false) {
				if err = DB.AutoMigrate(Models()...); err != nil {
					panic(fmt.Errorf("auto migrate: %w", err))
				}
			}
			configurePool(DB)
			return
		}

		log.Warnf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}

func configurePool(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warnf("[Database] could not access connection pool: %v", err)
		return
	}
	sqlDB.SetMaxOpenConns(env.GetEnvInt("DB_MAX_OPEN_CONNS", 25))
	sqlDB.SetMaxIdleConns(env.GetEnvInt("DB_MAX_IDLE_CONNS", 10))
	sqlDB.SetConnMaxLifetime(env.GetEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute))
}

// MySQL error numbers for lock contention.
const (
	errLockDeadlock    = 1213
	errLockWaitTimeout = 1205
)

// IsRetryable reports whether err is a lock conflict the caller may retry.
// Services never retry on their own.
func IsRetryable(err error) bool {
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == errLockDeadlock || myErr.Number == errLockWaitTimeout
	}
	return false
}
