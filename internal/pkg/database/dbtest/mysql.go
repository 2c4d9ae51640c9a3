package dbtest

import (
	"context"
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/ServiceBoard/internal/pkg/database"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/env"
)

// OpenMySQL connects to the scratch database named by TEST_MYSQL_DSN or skips
// the test. Every model table is dropped and recreated, so never point it at
// a database holding real data. The pool allows concurrent connections, so
// row locks are exercised for real.
func OpenMySQL(t testing.TB) *gorm.DB {
	t.Helper()

	raw := env.GetEnv("TEST_MYSQL_DSN", "")
	if raw == "" {
		t.Skip("Skipping MySQL-dependent test: TEST_MYSQL_DSN is not set")
	}
	cfg, err := mysqldriver.ParseDSN(raw)
	if err != nil {
		t.Fatalf("parse TEST_MYSQL_DSN: %v", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := gorm.Open(mysql.Open(cfg.FormatDSN()), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("Skipping MySQL-dependent test: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("mysql pool: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	err = sqlDB.PingContext(ctx)
	cancel()
	if err != nil {
		_ = sqlDB.Close()
		t.Skipf("Skipping MySQL-dependent test: ping failed (%v)", err)
	}
	sqlDB.SetMaxOpenConns(16)

	models := database.Models()
	dropAll := func() {
		for i := len(models) - 1; i >= 0; i-- {
			_ = db.Migrator().DropTable(models[i])
		}
	}
	dropAll()
	if err := db.AutoMigrate(models...); err != nil {
		_ = sqlDB.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		dropAll()
		_ = sqlDB.Close()
	})
	return db
}
