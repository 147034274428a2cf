package stripe

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v84"
)

// shippingCountries limits where physical print orders can ship.
var shippingCountries = []string{"US"}

// CheckoutSessionRequest describes a hosted checkout session to create.
type CheckoutSessionRequest struct {
	Subscription      bool
	PriceID           string
	Quantity          int64
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	CustomerEmail     string
	CollectShipping   bool
	Metadata          map[string]string
	IdempotencyKey    string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// CreateCheckoutSession forwards the idempotency key so a retried attempt
// gets the same session back from the provider.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	if c == nil || c.api == nil {
		return nil, errAPIKeyRequired
	}
	sess, err := c.api.V1CheckoutSessions.Create(ctx, buildCheckoutSessionParams(req))
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func buildCheckoutSessionParams(req CheckoutSessionRequest) *stripe.CheckoutSessionCreateParams {
	mode := stripe.CheckoutSessionModePayment
	if req.Subscription {
		mode = stripe.CheckoutSessionModeSubscription
	}
	quantity := max(req.Quantity, 1)

	params := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(mode)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			Price:    stripe.String(req.PriceID),
			Quantity: stripe.Int64(quantity),
		}},
	}
	if req.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(req.ClientReferenceID)
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if req.CollectShipping {
		params.ShippingAddressCollection = &stripe.CheckoutSessionCreateShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(shippingCountries),
		}
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	return params
}

// SubscriptionStatus fetches the provider's current status for a
// subscription, used when a webhook arrives without one.
func (c *Client) SubscriptionStatus(ctx context.Context, subscriptionID string) (string, error) {
	if c == nil || c.api == nil {
		return "", errAPIKeyRequired
	}
	sub, err := c.api.V1Subscriptions.Retrieve(ctx, subscriptionID, &stripe.SubscriptionRetrieveParams{})
	if err != nil {
		return "", fmt.Errorf("stripe: retrieve subscription %s: %w", subscriptionID, err)
	}
	return string(sub.Status), nil
}
