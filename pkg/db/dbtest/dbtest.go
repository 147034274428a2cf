// Package dbtest opens throwaway sqlite databases carrying the fulfillment
// schema for repository and service tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
)

// AllModels lists every table the engine owns.
func AllModels() []any {
	return []any{
		&models.User{},
		&models.Property{},
		&models.Order{},
		&models.CheckoutAttempt{},
		&models.PaymentEvent{},
		&models.ReusableAsset{},
		&models.AssetReassignmentHistory{},
		&models.PrintJob{},
		&models.DeliverableJob{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	}
}

// Open returns an isolated in-memory database with every table migrated.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:fulfillment_" + uuid.NewString() + "?mode=memory&cache=shared"
	return open(t, dsn)
}

// OpenFile returns a file-backed database that tolerates concurrent writers,
// for tests that race transactions against each other.
func OpenFile(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fulfillment.db")
	conn := open(t, "file:"+path+"?_busy_timeout=10000&_txlock=immediate&_journal_mode=WAL")
	return conn
}

// Client wraps Open in the transaction-running db.Client used by services.
func Client(t *testing.T) *db.Client {
	t.Helper()
	return db.Wrap(Open(t))
}

func open(t *testing.T, dsn string) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(AllModels()...))
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}
