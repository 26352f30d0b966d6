// Package testutil opens isolated in-memory databases for package tests.
package testutil

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB returns a fresh shared-cache in-memory database named after the test
// with models auto-migrated. A single connection serializes transactions the
// way row locks would on postgres.
func OpenDB(t *testing.T, models ...any) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(models) > 0 {
		require.NoError(t, conn.AutoMigrate(models...))
	}
	return conn
}

// DryRunMySQL returns a mysql session that renders statements without
// executing them, so dialect-specific SQL can be checked with no server.
func DryRunMySQL(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "ecopoints:ecopoints@tcp(127.0.0.1:3306)/ecopoints?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return conn
}

// Node returns a snowflake generator for tests.
func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// Date returns midnight UTC for the given calendar day.
func Date(year int, month int, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
