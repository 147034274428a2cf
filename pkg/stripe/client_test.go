package stripe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
)

func TestValidateAPIKey(t *testing.T) {
	cases := []struct {
		env, key string
		ok       bool
	}{
		{testEnv, "sk_test_123", true},
		{testEnv, "rk_test_123", true},
		{testEnv, "sk_live_123", false},
		{liveEnv, "rk_live_123", true},
		{liveEnv, "pk_live_123", false},
	}
	for _, tc := range cases {
		err := validateAPIKey(tc.env, tc.key)
		if tc.ok {
			assert.NoError(t, err, tc.key)
		} else {
			assert.Error(t, err, tc.key)
		}
	}
}

func TestNormalizeEnv(t *testing.T) {
	env, err := normalizeEnv("")
	require.NoError(t, err)
	assert.Equal(t, testEnv, env)

	env, err = normalizeEnv(" LIVE ")
	require.NoError(t, err)
	assert.Equal(t, liveEnv, env)

	_, err = normalizeEnv("staging")
	assert.ErrorIs(t, err, errInvalidStripeEnv)
}

func TestNewClient(t *testing.T) {
	ctx := context.Background()

	_, err := NewClient(ctx, config.StripeConfig{Secret: "whsec_x"}, nil)
	assert.ErrorIs(t, err, errAPIKeyRequired)

	_, err = NewClient(ctx, config.StripeConfig{APIKey: "sk_test_x"}, nil)
	assert.ErrorIs(t, err, errSecretRequired)

	_, err = NewClient(ctx, config.StripeConfig{APIKey: "sk_live_x", Secret: "whsec_x"}, nil)
	assert.Error(t, err)

	c, err := NewClient(ctx, config.StripeConfig{APIKey: "sk_test_x", Secret: "whsec_x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, testEnv, c.Environment())
}

func TestNilClient(t *testing.T) {
	var c *Client
	assert.Empty(t, c.Environment())

	_, err := c.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{})
	assert.ErrorIs(t, err, errAPIKeyRequired)

	_, err = c.SubscriptionStatus(context.Background(), "sub_1")
	assert.ErrorIs(t, err, errAPIKeyRequired)

	_, err = c.ConstructEvent([]byte("{}"), "t=1,v1=x")
	assert.ErrorIs(t, err, errSecretRequired)
}
