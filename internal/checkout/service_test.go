package checkout

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/internal/properties"
	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/dbtest"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/stripe"
)

type fakeProvider struct {
	requests []stripe.CheckoutSessionRequest
	err      error
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, req stripe.CheckoutSessionRequest) (*stripe.CheckoutSession, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	id := "cs_" + req.IdempotencyKey
	return &stripe.CheckoutSession{ID: id, URL: "https://checkout.example/" + id}, nil
}

type fixture struct {
	conn     *gorm.DB
	svc      *Service
	provider *fakeProvider
	userID   uuid.UUID
	property *models.Property
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	props := properties.NewRepository(conn)
	userID := uuid.New()
	property, err := props.Create(context.Background(), userID, "5 Oak Ave")
	require.NoError(t, err)

	provider := &fakeProvider{}
	svc, err := NewService(ServiceParams{
		Config: config.CheckoutConfig{
			SuccessURL:          "https://app.example/success",
			CancelURL:           "https://app.example/cancel",
			SignPrice:           "price_sign",
			SmartSignPrice:      "price_smart",
			ListingKitPrice:     "price_kit",
			SubscriptionPriceID: "price_pro",
		},
		DB:         db.Wrap(conn),
		Attempts:   NewRepository(conn),
		Orders:     orders.NewRepository(conn),
		Properties: props,
		Provider:   provider,
		Logger:     logger.New(logger.Options{ServiceName: "checkout-test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return &fixture{conn: conn, svc: svc, provider: provider, userID: userID, property: property}
}

func TestCreateOrReuseReturnsSameSessionForRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := Request{Purpose: enums.CheckoutPurposeSign, AttemptToken: "tok-1", PropertyID: &f.property.ID}

	first, err := f.svc.CreateOrReuse(ctx, f.userID, req)
	require.NoError(t, err)
	assert.False(t, first.Reused)
	require.NotNil(t, first.OrderID)

	second, err := f.svc.CreateOrReuse(ctx, f.userID, req)
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.SessionURL, second.SessionURL)
	assert.Equal(t, *first.OrderID, *second.OrderID)

	assert.Len(t, f.provider.requests, 1)
	var orderCount int64
	require.NoError(t, f.conn.Model(&models.Order{}).Count(&orderCount).Error)
	assert.EqualValues(t, 1, orderCount)

	sent := f.provider.requests[0]
	assert.Equal(t, "price_sign", sent.PriceID)
	assert.True(t, sent.CollectShipping)
	assert.Equal(t, first.OrderID.String(), sent.Metadata["order_id"])
	assert.Equal(t, "tok-1", sent.Metadata["attempt_token"])
	assert.Equal(t, first.OrderID.String(), sent.ClientReferenceID)

	order, err := orders.NewRepository(f.conn).FindByID(ctx, *first.OrderID)
	require.NoError(t, err)
	require.NotNil(t, order.ProviderSessionID)
	assert.Equal(t, first.SessionID, *order.ProviderSessionID)
}

func TestCreateOrReuseDifferentParamsGetNewKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	one, err := f.svc.CreateOrReuse(ctx, f.userID, Request{Purpose: enums.CheckoutPurposeSign, AttemptToken: "tok", Quantity: 1})
	require.NoError(t, err)
	two, err := f.svc.CreateOrReuse(ctx, f.userID, Request{Purpose: enums.CheckoutPurposeSign, AttemptToken: "tok", Quantity: 2})
	require.NoError(t, err)

	assert.NotEqual(t, one.SessionID, two.SessionID)
	require.Len(t, f.provider.requests, 2)
	assert.NotEqual(t, f.provider.requests[0].IdempotencyKey, f.provider.requests[1].IdempotencyKey)
}

func TestCreateOrReuseRetriesProviderWithSameKeyAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := Request{Purpose: enums.CheckoutPurposeSmartSign, AttemptToken: "tok-2"}

	f.provider.err = errors.New("provider down")
	_, err := f.svc.CreateOrReuse(ctx, f.userID, req)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	f.provider.err = nil
	result, err := f.svc.CreateOrReuse(ctx, f.userID, req)
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)

	require.Len(t, f.provider.requests, 2)
	assert.Equal(t, f.provider.requests[0].IdempotencyKey, f.provider.requests[1].IdempotencyKey)

	var attempts int64
	require.NoError(t, f.conn.Model(&models.CheckoutAttempt{}).Count(&attempts).Error)
	assert.EqualValues(t, 1, attempts)
}

func TestSubscriptionCheckoutCreatesNoOrder(t *testing.T) {
	f := newFixture(t)
	result, err := f.svc.CreateOrReuse(context.Background(), f.userID, Request{
		Purpose:      enums.CheckoutPurposeSubscription,
		AttemptToken: "sub-tok",
	})
	require.NoError(t, err)
	assert.Nil(t, result.OrderID)
	require.Len(t, f.provider.requests, 1)
	assert.True(t, f.provider.requests[0].Subscription)
	assert.Equal(t, f.userID.String(), f.provider.requests[0].ClientReferenceID)
}

func TestCreateOrReuseValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	foreign := uuid.New()

	cases := []struct {
		name string
		req  Request
		code pkgerrors.Code
	}{
		{"bad purpose", Request{Purpose: "poster", AttemptToken: "t"}, pkgerrors.CodeValidation},
		{"missing token", Request{Purpose: enums.CheckoutPurposeSign}, pkgerrors.CodeValidation},
		{"kit without property", Request{Purpose: enums.CheckoutPurposeListingKit, AttemptToken: "t"}, pkgerrors.CodeValidation},
		{"unpriced purpose", Request{Purpose: enums.CheckoutPurposeListingUnlock, AttemptToken: "t"}, pkgerrors.CodeValidation},
		{"foreign property", Request{Purpose: enums.CheckoutPurposeSign, AttemptToken: "t", PropertyID: &foreign}, pkgerrors.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateOrReuse(ctx, f.userID, tc.req)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tc.code), "got %v", err)
		})
	}
	assert.Empty(t, f.provider.requests)
}

func TestMarkCompletedBySessionFallsBackToToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := NewRepository(f.conn)
	orderID := uuid.New()
	attempt := &models.CheckoutAttempt{
		UserID:         f.userID,
		OrderID:        &orderID,
		Purpose:        enums.CheckoutPurposeSign,
		AttemptToken:   "tok-fallback",
		IdempotencyKey: "sign_tok-fallback_abc",
		ParamsHash:     "abc",
	}
	require.NoError(t, repo.Insert(ctx, attempt))

	n, err := repo.MarkCompletedBySession(ctx, "cs_unknown", AttemptRef{UserID: f.userID, OrderID: &orderID, Token: "tok-fallback"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stored, err := repo.FindByTokenAndHash(ctx, f.userID, "tok-fallback", "abc")
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutAttemptCompleted, stored.Status)
}

func TestMarkCompletedBySessionFallbackStaysWithinOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := NewRepository(f.conn)
	otherUser := uuid.New()
	otherOrder := uuid.New()
	// Another user picked the same client token for their own checkout.
	require.NoError(t, repo.Insert(ctx, &models.CheckoutAttempt{
		UserID:         otherUser,
		OrderID:        &otherOrder,
		Purpose:        enums.CheckoutPurposeSign,
		AttemptToken:   "tok-shared",
		IdempotencyKey: "sign_tok-shared_other",
		ParamsHash:     "other",
	}))
	ownOrder := uuid.New()
	require.NoError(t, repo.Insert(ctx, &models.CheckoutAttempt{
		UserID:         f.userID,
		OrderID:        &ownOrder,
		Purpose:        enums.CheckoutPurposeSign,
		AttemptToken:   "tok-shared",
		IdempotencyKey: "sign_tok-shared_own",
		ParamsHash:     "own",
	}))

	n, err := repo.MarkCompletedBySession(ctx, "cs_unknown", AttemptRef{UserID: f.userID, OrderID: &ownOrder, Token: "tok-shared"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	theirs, err := repo.FindByTokenAndHash(ctx, otherUser, "tok-shared", "other")
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutAttemptPending, theirs.Status)
	mine, err := repo.FindByTokenAndHash(ctx, f.userID, "tok-shared", "own")
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutAttemptCompleted, mine.Status)

	// A different order of the same user is not matched either.
	stray := uuid.New()
	n, err = repo.MarkCompletedBySession(ctx, "cs_other", AttemptRef{UserID: otherUser, OrderID: &stray, Token: "tok-shared"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreateOrReuseRejectsTokenHeldByAnotherUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := Request{Purpose: enums.CheckoutPurposeSmartSign, AttemptToken: "tok-taken", Quantity: 1}
	_, err := f.svc.CreateOrReuse(ctx, f.userID, req)
	require.NoError(t, err)

	_, err = f.svc.CreateOrReuse(ctx, uuid.New(), req)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
	assert.Len(t, f.provider.requests, 1)
}
