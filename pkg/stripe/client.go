// Package stripe holds the payment provider adapter: checkout session
// creation, subscription lookups and webhook signature verification.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe: api key is required")
	errSecretRequired   = errors.New("stripe: webhook signing secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe: environment must be %q or %q", testEnv, liveEnv)
)

// Client is safe for concurrent use.
type Client struct {
	api           *stripe.Client
	environment   string
	signingSecret string
}

func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errSecretRequired
	}
	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe client ready")
	}
	return &Client{
		api:           stripe.NewClient(apiKey),
		environment:   env,
		signingSecret: secret,
	}, nil
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

func normalizeEnv(raw string) (string, error) {
	switch env := strings.TrimSpace(strings.ToLower(raw)); env {
	case "", testEnv:
		return testEnv, nil
	case liveEnv:
		return liveEnv, nil
	default:
		return "", errInvalidStripeEnv
	}
}

// validateAPIKey rejects a live key in test mode and vice versa. Restricted
// keys (rk_) are accepted alongside secret keys (sk_).
func validateAPIKey(env, key string) error {
	for _, prefix := range []string{"sk_", "rk_"} {
		if strings.HasPrefix(key, prefix+env) {
			return nil
		}
	}
	return fmt.Errorf("stripe: %s environment requires an sk_%s or rk_%s key", env, env, env)
}
