package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
)

func TestResourceNames(t *testing.T) {
	c := &Client{projectID: "ff-prod"}

	assert.Equal(t, "projects/ff-prod/topics/fulfillment-events", c.resourceName(kindTopic, " fulfillment-events "))
	assert.Equal(t, "projects/other/topics/x", c.resourceName(kindTopic, "projects/other/topics/x"))
	assert.Equal(t, "projects/ff-prod/subscriptions/sub-a", c.resourceName(kindSubscription, "sub-a"))
	assert.Empty(t, c.resourceName(kindTopic, "  "))

	var nilClient *Client
	assert.Empty(t, nilClient.resourceName(kindTopic, "x"))
	assert.Nil(t, nilClient.Publisher("x"))
}

func TestRequiredResources(t *testing.T) {
	got := requiredResources(config.PubSubConfig{
		FulfillmentTopic:        "events",
		OperatorTopic:           " events ",
		FulfillmentSubscription: "events",
	})
	assert.Equal(t, []resource{
		{kind: kindTopic, name: "events"},
		{kind: kindSubscription, name: "events"},
	}, got)

	assert.Empty(t, requiredResources(config.PubSubConfig{}))
}

func TestClientOptions(t *testing.T) {
	assert.Empty(t, clientOptions(config.GCPConfig{}))
	assert.Len(t, clientOptions(config.GCPConfig{CredentialsJSON: "{}"}), 1)
	assert.Len(t, clientOptions(config.GCPConfig{ApplicationCredentials: "/etc/creds.json"}), 1)
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{}, nil)
	require.ErrorIs(t, err, errProjectIDRequired)

	_, err = NewClient(context.Background(), config.GCPConfig{ProjectID: "ff"}, config.PubSubConfig{FulfillmentSubscription: "sub"}, nil)
	require.ErrorIs(t, err, errNoTopics)
}

func TestUninitializedClient(t *testing.T) {
	var c *Client
	assert.ErrorIs(t, c.Ping(context.Background()), errNotInitialized)
	assert.NoError(t, c.Close())
}
