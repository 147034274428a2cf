package db

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

type widget struct {
	ID   int
	Code string `gorm:"uniqueIndex"`
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(context.Background(), config.DBConfig{
		Driver: "sqlite",
		DSN:    "file:db_" + uuid.NewString() + "?mode=memory&cache=shared",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.DB().AutoMigrate(&widget{}))
	return client
}

func countWidgets(t *testing.T, c *Client) int64 {
	t.Helper()
	var n int64
	require.NoError(t, c.DB().Model(&widget{}).Count(&n).Error)
	return n
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{}, nil)
	assert.ErrorContains(t, err, "DSN is required")
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&widget{Code: "kept"}).Error
	}))
	assert.EqualValues(t, 1, countWidgets(t, client))

	boom := errors.New("boom")
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&widget{Code: "dropped"}).Error)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, countWidgets(t, client))

	assert.Panics(t, func() {
		_ = client.WithTx(ctx, func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(&widget{Code: "panicked"}).Error)
			panic("worker crashed")
		})
	})
	assert.EqualValues(t, 1, countWidgets(t, client))
}

func TestPingAndWrap(t *testing.T) {
	client := newTestClient(t)
	require.NoError(t, client.Ping(context.Background()))
	assert.Same(t, client.DB(), Wrap(client.DB()).DB())
}

func TestIsUniqueViolation(t *testing.T) {
	client := newTestClient(t)
	require.NoError(t, client.DB().Create(&widget{Code: "abc"}).Error)
	dup := client.DB().Create(&widget{Code: "abc"}).Error

	assert.True(t, IsUniqueViolation(dup, ""))
	assert.True(t, IsUniqueViolation(dup, "widgets.code"))
	assert.False(t, IsUniqueViolation(dup, "widgets.other"))
	assert.False(t, IsUniqueViolation(errors.New("boom"), ""))
	assert.False(t, IsUniqueViolation(nil, ""))
}

func TestQueryLoggerReportsFailuresAndSlowQueries(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "db-test", Output: &buf})
	conn, err := gorm.Open(sqlite.Open("file:ql_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: newQueryLogger(logg, time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&widget{}))

	var w widget
	assert.ErrorIs(t, conn.First(&w).Error, gorm.ErrRecordNotFound)
	assert.NotContains(t, buf.String(), "query failed")

	require.Error(t, conn.Exec("SELECT * FROM missing_table").Error)
	assert.Contains(t, buf.String(), "query failed")
	assert.Contains(t, buf.String(), "missing_table")

	buf.Reset()
	slow := conn.Session(&gorm.Session{Logger: newQueryLogger(logg, time.Nanosecond)})
	require.NoError(t, slow.Find(&[]widget{}).Error)
	assert.Contains(t, buf.String(), "slow query")
}
