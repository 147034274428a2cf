package assets

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/entitlements"
	"github.com/angelmondragon/fulfillment-engine/internal/properties"
	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/dbtest"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
)

type fixture struct {
	conn  *gorm.DB
	svc   *Service
	owner models.User
	props *properties.Repository
}

func newFixture(t *testing.T, codes ...string) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	owner := models.User{ID: uuid.New(), Email: "owner@example.com", SubscriptionStatus: enums.SubscriptionStatusActive}
	require.NoError(t, conn.Create(&owner).Error)

	params := ServiceParams{
		DB:           db.Wrap(conn),
		Repo:         NewRepository(conn),
		Properties:   properties.NewRepository(conn),
		Entitlements: entitlements.NewChecker(conn),
		Outbox:       outbox.NewService(outbox.NewRepository(conn), nil),
		Logger:       logger.New(logger.Options{ServiceName: "assets-test", Output: io.Discard}),
	}
	if len(codes) > 0 {
		queue := append([]string(nil), codes...)
		params.CodeFunc = func() (string, error) {
			if len(queue) == 0 {
				return GenerateCode()
			}
			next := queue[0]
			queue = queue[1:]
			return next, nil
		}
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	return &fixture{conn: conn, svc: svc, owner: owner, props: properties.NewRepository(conn)}
}

func (f *fixture) order(t *testing.T, propertyID *uuid.UUID, orderType enums.OrderType, status enums.OrderStatus) *models.Order {
	t.Helper()
	order := &models.Order{ID: uuid.New(), UserID: f.owner.ID, PropertyID: propertyID, OrderType: orderType, Status: status}
	require.NoError(t, f.conn.Create(order).Error)
	return order
}

func (f *fixture) property(t *testing.T) *models.Property {
	t.Helper()
	property, err := f.props.Create(context.Background(), f.owner.ID, uuid.NewString()+" Pine Rd")
	require.NoError(t, err)
	return property
}

func (f *fixture) activate(t *testing.T, order *models.Order) *models.ReusableAsset {
	t.Helper()
	var asset *models.ReusableAsset
	require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
		var err error
		asset, err = f.svc.ActivateForOrder(context.Background(), tx, order)
		return err
	}))
	return asset
}

func (f *fixture) setSubscription(t *testing.T, status enums.SubscriptionStatus) {
	t.Helper()
	require.NoError(t, f.conn.Model(&models.User{}).Where("id = ?", f.owner.ID).Update("subscription_status", status).Error)
}

func TestActivateForOrderIsIdempotent(t *testing.T) {
	f := newFixture(t)
	property := f.property(t)
	order := f.order(t, &property.ID, enums.OrderTypeSmartSign, enums.OrderStatusPaid)

	first := f.activate(t, order)
	second := f.activate(t, order)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, first.Code, CodeLength)
	require.NotNil(t, first.ActiveTargetID)
	assert.Equal(t, property.ID, *first.ActiveTargetID)
	assert.True(t, first.IsActivated())

	var assets, events int64
	require.NoError(t, f.conn.Model(&models.ReusableAsset{}).Count(&assets).Error)
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventAssetActivated).Count(&events).Error)
	assert.EqualValues(t, 1, assets)
	assert.EqualValues(t, 1, events)
}

func TestActivateRetriesOnCodeCollision(t *testing.T) {
	f := newFixture(t, "AAAAAAAAAAAA", "AAAAAAAAAAAA", "BBBBBBBBBBBB")
	a := f.activate(t, f.order(t, nil, enums.OrderTypeSmartSign, enums.OrderStatusPaid))
	b := f.activate(t, f.order(t, nil, enums.OrderTypeSmartSign, enums.OrderStatusPaid))

	assert.Equal(t, "AAAAAAAAAAAA", a.Code)
	assert.Equal(t, "BBBBBBBBBBBB", b.Code)
}

func TestActivateRejectsOtherOrderTypes(t *testing.T) {
	f := newFixture(t)
	order := f.order(t, nil, enums.OrderTypeSign, enums.OrderStatusPaid)
	err := f.conn.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.ActivateForOrder(context.Background(), tx, order)
		return err
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestAssignRecordsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.property(t)
	second := f.property(t)
	asset := f.activate(t, f.order(t, &first.ID, enums.OrderTypeSmartSign, enums.OrderStatusPaid))

	updated, err := f.svc.Assign(ctx, f.owner.ID, asset.ID, &second.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.ActiveTargetID)
	assert.Equal(t, second.ID, *updated.ActiveTargetID)

	// Same target is a no-op and writes no history.
	_, err = f.svc.Assign(ctx, f.owner.ID, asset.ID, &second.ID)
	require.NoError(t, err)

	_, err = f.svc.Assign(ctx, f.owner.ID, asset.ID, nil)
	require.NoError(t, err)

	page, err := f.svc.History(ctx, f.owner.ID, asset.ID, pagination.Params{})
	require.NoError(t, err)
	require.Empty(t, page.NextCursor)
	history := page.Items
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, *history[0].OldTargetID)
	assert.Equal(t, second.ID, *history[0].NewTargetID)
	assert.Equal(t, second.ID, *history[1].OldTargetID)
	assert.Nil(t, history[1].NewTargetID)
	assert.Equal(t, f.owner.ID, history[1].ChangedBy)
}

func TestAssignGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.property(t)
	asset := f.activate(t, f.order(t, &target.ID, enums.OrderTypeSmartSign, enums.OrderStatusPaid))
	other := f.property(t)

	_, err := f.svc.Assign(ctx, uuid.New(), asset.ID, &other.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = f.svc.Assign(ctx, f.owner.ID, uuid.New(), &other.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	foreign := uuid.New()
	_, err = f.svc.Assign(ctx, f.owner.ID, asset.ID, &foreign)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	f.setSubscription(t, enums.SubscriptionStatusCanceled)
	_, err = f.svc.Assign(ctx, f.owner.ID, asset.ID, &other.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeEntitlementRequired))

	require.NoError(t, f.conn.Model(&models.ReusableAsset{}).Where("id = ?", asset.ID).Update("is_frozen", true).Error)
	_, err = f.svc.Assign(ctx, f.owner.ID, asset.ID, &other.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAssetFrozen))
}

func TestAssignRejectsUnactivatedAsset(t *testing.T) {
	f := newFixture(t)
	asset := &models.ReusableAsset{Code: "UNACTIVATED1", OwnerID: f.owner.ID}
	require.NoError(t, NewRepository(f.conn).Create(context.Background(), asset))
	target := f.property(t)

	_, err := f.svc.Assign(context.Background(), f.owner.ID, asset.ID, &target.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAssetNotActivated))
}

func TestInitialPlacementAllowedWithoutSubscription(t *testing.T) {
	f := newFixture(t)
	f.setSubscription(t, enums.SubscriptionStatusNone)
	asset := f.activate(t, f.order(t, nil, enums.OrderTypeSmartSign, enums.OrderStatusPaid))
	target := f.property(t)

	updated, err := f.svc.Assign(context.Background(), f.owner.ID, asset.ID, &target.ID)
	require.NoError(t, err)
	assert.Equal(t, target.ID, *updated.ActiveTargetID)

	next := f.property(t)
	_, err = f.svc.Assign(context.Background(), f.owner.ID, asset.ID, &next.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeEntitlementRequired))
}

func TestFreezeSparesOrderBackedAssets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	signed := f.property(t)
	bare := f.property(t)
	f.order(t, &signed.ID, enums.OrderTypeSign, enums.OrderStatusFulfilled)
	backed := f.activate(t, f.order(t, nil, enums.OrderTypeSmartSign, enums.OrderStatusPaid))
	exposedOrder := f.order(t, nil, enums.OrderTypeSmartSign, enums.OrderStatusPaid)
	exposed := f.activate(t, exposedOrder)
	_, err := f.svc.Assign(ctx, f.owner.ID, backed.ID, &signed.ID)
	require.NoError(t, err)
	_, err = f.svc.Assign(ctx, f.owner.ID, exposed.ID, &bare.ID)
	require.NoError(t, err)
	// print_failed sits outside the paid set, so nothing backs this asset.
	require.NoError(t, f.conn.Model(exposedOrder).Update("status", enums.OrderStatusPrintFailed).Error)

	assert.Equal(t, []uuid.UUID{exposed.ID}, f.cancelAndFreeze(t))

	repo := NewRepository(f.conn)
	stillLive, err := repo.FindByID(ctx, backed.ID)
	require.NoError(t, err)
	assert.False(t, stillLive.IsFrozen)
	nowFrozen, err := repo.FindByID(ctx, exposed.ID)
	require.NoError(t, err)
	assert.True(t, nowFrozen.IsFrozen)
	assert.NotNil(t, nowFrozen.FrozenAt)

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventAssetFrozen).Count(&events).Error)
	assert.EqualValues(t, 1, events)

	var unfrozen int64
	require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
		unfrozen, err = f.svc.UnfreezeForOwner(ctx, tx, f.owner.ID)
		return err
	}))
	assert.EqualValues(t, 1, unfrozen)
}

func (f *fixture) cancelAndFreeze(t *testing.T) []uuid.UUID {
	t.Helper()
	var frozen []uuid.UUID
	require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", f.owner.ID).
			Update("subscription_status", enums.SubscriptionStatusCanceled).Error; err != nil {
			return err
		}
		var err error
		frozen, err = f.svc.FreezeForOwner(context.Background(), tx, f.owner.ID, enums.SubscriptionStatusCanceled)
		return err
	}))
	return frozen
}

func TestFreezeSparesAssetsBackedByTheirActivationOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	unplaced := f.activate(t, f.order(t, nil, enums.OrderTypeSmartSign, enums.OrderStatusPaid))
	placed := f.activate(t, f.order(t, nil, enums.OrderTypeSmartSign, enums.OrderStatusSubmittedToPrinter))
	target := f.property(t)
	_, err := f.svc.Assign(ctx, f.owner.ID, placed.ID, &target.ID)
	require.NoError(t, err)

	assert.Empty(t, f.cancelAndFreeze(t))

	repo := NewRepository(f.conn)
	for _, id := range []uuid.UUID{unplaced.ID, placed.ID} {
		asset, err := repo.FindByID(ctx, id)
		require.NoError(t, err)
		assert.False(t, asset.IsFrozen)
	}
}

func TestFreezeIsNoOpWhileSubscribed(t *testing.T) {
	f := newFixture(t)
	target := f.property(t)
	f.activate(t, f.order(t, &target.ID, enums.OrderTypeSmartSign, enums.OrderStatusPaid))
	// The smart sign order itself unlocks its property.
	require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
		frozen, err := f.svc.FreezeForOwner(context.Background(), tx, f.owner.ID, enums.SubscriptionStatusActive)
		assert.Empty(t, frozen)
		return err
	}))
}

func TestResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.property(t)
	assigned := f.activate(t, f.order(t, &target.ID, enums.OrderTypeSmartSign, enums.OrderStatusPaid))
	loose := f.activate(t, f.order(t, nil, enums.OrderTypeSmartSign, enums.OrderStatusPaid))

	res, err := f.svc.Resolve(ctx, assigned.Code)
	require.NoError(t, err)
	assert.Equal(t, ResolutionTarget, res.Kind)
	assert.Equal(t, "/p/"+target.ID.String(), res.Path)

	res, err = f.svc.Resolve(ctx, loose.Code)
	require.NoError(t, err)
	assert.Equal(t, ResolutionUnassigned, res.Kind)
	assert.Empty(t, res.Path)

	// Freezing blocks reassignment only; the code keeps resolving.
	require.NoError(t, f.conn.Model(&models.ReusableAsset{}).Where("id = ?", assigned.ID).
		Updates(map[string]any{"is_frozen": true, "frozen_at": time.Now().UTC()}).Error)
	res, err = f.svc.Resolve(ctx, assigned.Code)
	require.NoError(t, err)
	assert.Equal(t, ResolutionTarget, res.Kind)
	assert.Equal(t, "/p/"+target.ID.String(), res.Path)

	_, err = f.svc.Resolve(ctx, "NOSUCHCODE00")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestHistoryPagesOldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asset := f.activate(t, f.order(t, nil, enums.OrderTypeSmartSign, enums.OrderStatusPaid))
	targets := []uuid.UUID{f.property(t).ID, f.property(t).ID, f.property(t).ID}
	for i := range targets {
		_, err := f.svc.Assign(ctx, f.owner.ID, asset.ID, &targets[i])
		require.NoError(t, err)
	}

	first, err := f.svc.History(ctx, f.owner.ID, asset.ID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := f.svc.History(ctx, f.owner.ID, asset.ID, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Empty(t, second.NextCursor)

	seen := map[uuid.UUID]bool{}
	for _, h := range append(first.Items, second.Items...) {
		assert.False(t, seen[h.ID], "entry returned twice")
		seen[h.ID] = true
	}

	_, err = f.svc.History(ctx, f.owner.ID, asset.ID, pagination.Params{Cursor: "not-a-cursor"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestListOwnedPagesNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.activate(t, f.order(t, nil, enums.OrderTypeSmartSign, enums.OrderStatusPaid))
	}

	first, err := f.svc.ListOwned(ctx, f.owner.ID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.False(t, first.Items[0].CreatedAt.Before(first.Items[1].CreatedAt))

	rest, err := f.svc.ListOwned(ctx, f.owner.ID, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	assert.NotEqual(t, first.Items[0].ID, rest.Items[0].ID)
	assert.NotEqual(t, first.Items[1].ID, rest.Items[0].ID)

	other, err := f.svc.ListOwned(ctx, uuid.New(), pagination.Params{})
	require.NoError(t, err)
	assert.Empty(t, other.Items)
}

func TestHistoryIsOwnerOnly(t *testing.T) {
	f := newFixture(t)
	asset := f.activate(t, f.order(t, nil, enums.OrderTypeSmartSign, enums.OrderStatusPaid))
	_, err := f.svc.History(context.Background(), uuid.New(), asset.ID, pagination.Params{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestGenerateCodeAlphabet(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, CodeLength)
		for _, r := range code {
			assert.Contains(t, codeAlphabet, string(r))
		}
		seen[code] = true
	}
	assert.Len(t, seen, 50)
}
