// Package pubsub wraps the Pub/Sub v2 client for the outbox publisher. It
// refuses to start unless every configured topic and subscription exists.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("pubsub: gcp project id is required")
	errNoTopics          = errors.New("pubsub: at least one topic is required")
	errNotInitialized    = errors.New("pubsub: client not initialized")
)

type kind string

const (
	kindTopic        kind = "topics"
	kindSubscription kind = "subscriptions"
)

type resource struct {
	kind kind
	name string
}

type Client struct {
	client    *pubsub.Client
	projectID string
	resources []resource
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	resources := requiredResources(cfg)
	if len(resources) == 0 || resources[0].kind != kindTopic {
		return nil, errNoTopics
	}

	ps, err := pubsub.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("pubsub: create client: %w", err)
	}
	c := &Client{client: ps, projectID: projectID, resources: resources}
	if err := c.Ping(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "resources", len(resources)), "pubsub resources verified")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case gcp.CredentialsJSON != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case gcp.ApplicationCredentials != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

// requiredResources lists topics first, then the optional downstream
// subscription, skipping blanks and duplicates.
func requiredResources(cfg config.PubSubConfig) []resource {
	var out []resource
	seen := map[resource]bool{}
	add := func(k kind, name string) {
		r := resource{kind: k, name: strings.TrimSpace(name)}
		if r.name == "" || seen[r] {
			return
		}
		seen[r] = true
		out = append(out, r)
	}
	add(kindTopic, cfg.FulfillmentTopic)
	add(kindTopic, cfg.OperatorTopic)
	add(kindSubscription, cfg.FulfillmentSubscription)
	return out
}

// Ping checks every required resource concurrently.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range c.resources {
		g.Go(func() error { return c.check(ctx, r) })
	}
	return g.Wait()
}

func (c *Client) check(ctx context.Context, r resource) error {
	full := c.resourceName(r.kind, r.name)
	var err error
	switch r.kind {
	case kindTopic:
		_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
	case kindSubscription:
		_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
	}
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("pubsub: %s does not exist", full)
	default:
		return fmt.Errorf("pubsub: check %s: %w", full, err)
	}
}

// Publisher returns a handle for a topic id or full resource name. The
// caller owns it and must Stop it.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := c.resourceName(kindTopic, topic)
	if full == "" {
		return nil
	}
	return c.client.Publisher(full)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// resourceName qualifies a short name with the project. Names already in
// projects/<p>/<kind>/<n> form pass through.
func (c *Client) resourceName(k kind, name string) string {
	name = strings.TrimSpace(name)
	if c == nil || name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+string(k)+"/") {
		return name
	}
	return "projects/" + c.projectID + "/" + string(k) + "/" + name
}
