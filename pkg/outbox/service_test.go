package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/dbtest"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox/payloads"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
)

func TestEmitWritesEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	orderID := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          payloads.OrderPaidEvent{OrderID: orderID},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventOrderPaid, rows[0].EventType)
	assert.Equal(t, orderID, rows[0].AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)

	var data payloads.OrderPaidEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, orderID, data.OrderID)
}

func TestEmitRequiresTransaction(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	err := svc.Emit(context.Background(), nil, DomainEvent{})
	require.Error(t, err)
}

func TestEmitIfNotExistsSkipsDuplicates(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	assetID := uuid.New()
	event := DomainEvent{
		EventType:     enums.EventAssetActivated,
		AggregateType: enums.AggregateReusableAsset,
		AggregateID:   assetID,
		Data:          map[string]string{"assetId": assetID.String()},
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
			return svc.EmitIfNotExists(context.Background(), tx, event)
		}))
	}

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestFetchSkipsPublishedAndExhaustedRows(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	now := time.Now().UTC()

	pending := seedOutboxRow(t, conn, now.Add(-3*time.Minute), nil, 0)
	retrying := seedOutboxRow(t, conn, now.Add(-2*time.Minute), nil, 2)
	seedOutboxRow(t, conn, now.Add(-time.Minute), &now, 0)
	exhausted := seedOutboxRow(t, conn, now.Add(-4*time.Minute), nil, 0)
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return repo.MarkTerminalTx(tx, exhausted, errors.New("bad payload"), 5)
	}))

	var fetched []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		fetched, err = repo.FetchUnpublishedForPublish(tx, 10, 5)
		return err
	}))
	require.Len(t, fetched, 2)
	assert.Equal(t, pending, fetched[0].ID)
	assert.Equal(t, retrying, fetched[1].ID)
}

func TestMarkFailedIncrementsAttempts(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	id := seedOutboxRow(t, conn, time.Now().UTC(), nil, 1)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return repo.MarkFailedTx(tx, id, errors.New("pubsub unavailable"))
	}))

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row, "id = ?", id).Error)
	assert.Equal(t, 2, row.AttemptCount)
	require.NotNil(t, row.LastError)
	assert.Equal(t, "pubsub unavailable", *row.LastError)
	assert.Nil(t, row.PublishedAt)
}

func TestDeletePublishedBefore(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)
	cutoff := now.Add(-24 * time.Hour)

	seedOutboxRow(t, conn, old, &old, 0)
	seedOutboxRow(t, conn, old, nil, 5)
	keepRecent := seedOutboxRow(t, conn, now, &now, 0)
	keepPending := seedOutboxRow(t, conn, old, nil, 1)

	var deleted int64
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		deleted, err = repo.DeletePublishedBefore(context.Background(), tx, cutoff, 5)
		return err
	}))
	assert.EqualValues(t, 2, deleted)

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Order("created_at").Find(&remaining).Error)
	ids := []uuid.UUID{}
	for _, row := range remaining {
		ids = append(ids, row.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{keepRecent, keepPending}, ids)
}

func TestDLQInsertTruncatesMessage(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewDLQRepository(conn)
	eventID := uuid.New()
	msg := strings.Repeat("x", 3000)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return repo.InsertTx(tx, deadLetter(eventID, &msg, time.Now().UTC()))
	}))

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		found, err := repo.FindByEventIDTx(tx, eventID)
		require.NoError(t, err)
		require.NotNil(t, found)
		require.NotNil(t, found.ErrorMessage)
		assert.Len(t, *found.ErrorMessage, maxDLQErrorLen)

		missing, err := repo.FindByEventIDTx(tx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, missing)
		return nil
	}))
}

func TestDeadLettersListPagesNewestFirst(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := NewDLQRepository(conn)
	svc := newDeadLetters(t, conn)
	now := time.Now().UTC()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		entry := deadLetter(uuid.New(), nil, now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, conn.Transaction(func(tx *gorm.DB) error { return dlq.InsertTx(tx, entry) }))
		ids = append(ids, entry.EventID)
	}

	first, err := svc.List(context.Background(), pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, ids[2], first.Items[0].EventID)
	assert.Equal(t, ids[1], first.Items[1].EventID)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.List(context.Background(), pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, ids[0], second.Items[0].EventID)
	assert.Empty(t, second.NextCursor)

	_, err = svc.List(context.Background(), pagination.Params{Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestReplayResetsExhaustedRow(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	dlq := NewDLQRepository(conn)
	svc := newDeadLetters(t, conn)

	id := seedOutboxRow(t, conn, time.Now().UTC(), nil, 0)
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkTerminalTx(tx, id, errors.New("topic missing"), 10); err != nil {
			return err
		}
		return dlq.InsertTx(tx, deadLetter(id, nil, time.Now().UTC()))
	}))

	entry, err := svc.Replay(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, entry.EventID)

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row, "id = ?", id).Error)
	assert.Zero(t, row.AttemptCount)
	assert.Nil(t, row.LastError)

	var remaining int64
	require.NoError(t, conn.Model(&models.OutboxDLQ{}).Count(&remaining).Error)
	assert.Zero(t, remaining)

	_, err = svc.Replay(context.Background(), id)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestReplayRecreatesRowRemovedByRetention(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := NewDLQRepository(conn)
	svc := newDeadLetters(t, conn)
	id := uuid.New()
	entry := deadLetter(id, nil, time.Now().UTC())
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error { return dlq.InsertTx(tx, entry) }))

	_, err := svc.Replay(context.Background(), id)
	require.NoError(t, err)

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row, "id = ?", id).Error)
	assert.Equal(t, entry.AggregateID, row.AggregateID)
	assert.JSONEq(t, string(entry.Payload), string(row.Payload))
	assert.Nil(t, row.PublishedAt)
}

func TestDLQDeleteFailedBefore(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := NewDLQRepository(conn)
	now := time.Now().UTC()
	old := deadLetter(uuid.New(), nil, now.Add(-100*24*time.Hour))
	fresh := deadLetter(uuid.New(), nil, now.Add(-time.Hour))

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := dlq.InsertTx(tx, old); err != nil {
			return err
		}
		return dlq.InsertTx(tx, fresh)
	}))

	var deleted int64
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		deleted, err = dlq.DeleteFailedBefore(context.Background(), tx, now.Add(-90*24*time.Hour))
		return err
	}))
	assert.EqualValues(t, 1, deleted)

	var left []models.OutboxDLQ
	require.NoError(t, conn.Find(&left).Error)
	require.Len(t, left, 1)
	assert.Equal(t, fresh.EventID, left[0].EventID)

	_, err := dlq.DeleteFailedBefore(context.Background(), nil, now)
	assert.Error(t, err)
}

func TestSealAndOpenEnvelope(t *testing.T) {
	userID := uuid.New()
	env, raw, err := Seal(DomainEvent{
		EventType: enums.EventAssetFrozen,
		Actor:     &ActorRef{UserID: &userID, Role: "admin"},
		Data:      map[string]int{"frozen": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, EnvelopeVersion, env.Version)

	opened, err := OpenEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, opened.EventID)
	assert.Equal(t, userID, *opened.Actor.UserID)
	assert.JSONEq(t, `{"frozen":2}`, string(opened.Data))

	_, err = OpenEnvelope([]byte(`{"version":1,"eventId":"x"}`))
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func newDeadLetters(t *testing.T, conn *gorm.DB) *DeadLetters {
	t.Helper()
	svc, err := NewDeadLetters(DeadLetterParams{
		DB:     db.Wrap(conn),
		Events: NewRepository(conn),
		DLQ:    NewDLQRepository(conn),
	})
	require.NoError(t, err)
	return svc
}

func deadLetter(eventID uuid.UUID, msg *string, failedAt time.Time) models.OutboxDLQ {
	return models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1,"data":{}}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  msg,
		AttemptCount:  5,
		FailedAt:      failedAt,
	}
}

func seedOutboxRow(t *testing.T, conn *gorm.DB, createdAt time.Time, publishedAt *time.Time, attempts int) uuid.UUID {
	t.Helper()
	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1}`),
		CreatedAt:     createdAt,
		PublishedAt:   publishedAt,
		AttemptCount:  attempts,
	}
	require.NoError(t, conn.Create(&row).Error)
	return row.ID
}
