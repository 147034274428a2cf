package stripe

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

// ErrSignature is returned when a webhook payload fails verification.
var ErrSignature = errors.New("stripe signature verification failed")

const signatureTolerance = 5 * time.Minute

// ConstructEvent verifies the Stripe-Signature header with the configured
// signing secret and decodes the event.
func (c *Client) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	if c == nil {
		return stripe.Event{}, errSecretRequired
	}
	return VerifyEvent(payload, header, c.signingSecret)
}

// VerifyEvent needs only the signing secret, so webhook handling can be
// exercised without an API key.
func VerifyEvent(payload []byte, header, secret string) (stripe.Event, error) {
	if strings.TrimSpace(secret) == "" {
		return stripe.Event{}, errSecretRequired
	}
	if strings.TrimSpace(header) == "" {
		return stripe.Event{}, fmt.Errorf("%w: header missing", ErrSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		Tolerance:                signatureTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return event, nil
}
