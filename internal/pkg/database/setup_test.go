package database

import (
	"fmt"
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ServiceBoard/internal/pkg/env"
)

func TestDSNFromEnv(t *testing.T) {
	prev := env.Env
	env.Env = map[string]string{
		"DB_USER":     "board",
		"DB_PASSWORD": "s3cret",
		"DB_HOST":     "db",
		"DB_PORT":     "3307",
		"DB_NAME":     "serviceboard",
	}
	t.Cleanup(func() { env.Env = prev })

	dsn := DSN()
	cfg, err := mysqldriver.ParseDSN(dsn)
	require.NoError(t, err)

	assert.Equal(t, "board", cfg.User)
	assert.Equal(t, "s3cret", cfg.Passwd)
	assert.Equal(t, "db:3307", cfg.Addr)
	assert.Equal(t, "serviceboard", cfg.DBName)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, time.UTC, cfg.Loc)
	assert.Equal(t, "utf8mb4_unicode_ci", cfg.Collation)
}

func TestIsRetryable(t *testing.T) {
	deadlock := &mysqldriver.MySQLError{Number: 1213, Message: "Deadlock found"}
	lockWait := &mysqldriver.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}
	dup := &mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"}

	assert.True(t, IsRetryable(deadlock))
	assert.True(t, IsRetryable(fmt.Errorf("activate: %w", lockWait)))
	assert.False(t, IsRetryable(dup))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
}

func TestModelsAreRegistered(t *testing.T) {
	assert.Len(t, Models(), 10)
}
