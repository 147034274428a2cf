package dbtest

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/angelmondragon/fulfillment-engine/pkg/migrate"
)

// PostgresDSNEnv names the variable pointing tests at a disposable postgres.
const PostgresDSNEnv = "FULFILLMENT_TEST_POSTGRES_DSN"

// OpenPostgres migrates a fresh schema on the database named by
// PostgresDSNEnv and skips the test when the variable is unset. Row locking
// (SKIP LOCKED) only behaves for real here.
func OpenPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresDSNEnv)
	}
	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	admin, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, admin.Exec(`CREATE SCHEMA "`+schema+`"`).Error)
	t.Cleanup(func() {
		_ = admin.Exec(`DROP SCHEMA "` + schema + `" CASCADE`).Error
		if sqlDB, err := admin.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	conn, err := gorm.Open(postgres.New(postgres.Config{DSN: withSearchPath(dsn, schema), PreferSimpleProtocol: true}),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migrate.Run(context.Background(), sqlDB, "", "up"))
	return conn
}

// withSearchPath scopes dsn to schema, keeping public visible for extensions.
func withSearchPath(dsn, schema string) string {
	path := schema + ",public"
	if strings.Contains(dsn, "://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "search_path=" + path
	}
	return dsn + " search_path=" + path
}
