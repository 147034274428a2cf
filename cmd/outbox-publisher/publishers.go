package main

import (
	"context"
	"errors"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	Stop()
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type publisherFactory func(topic string) publisher

// topicPublishers creates one publisher per topic on first use and keeps it,
// so Pub/Sub can batch messages across polls.
type topicPublishers struct {
	mu      sync.Mutex
	factory publisherFactory
	byTopic map[string]publisher
}

func newTopicPublishers(factory publisherFactory) *topicPublishers {
	return &topicPublishers{factory: factory, byTopic: map[string]publisher{}}
}

func (t *topicPublishers) get(topic string) publisher {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pub, ok := t.byTopic[topic]; ok {
		return pub
	}
	pub := t.factory(topic)
	if pub != nil {
		t.byTopic[topic] = pub
	}
	return pub
}

// stopAll flushes pending messages and releases every publisher.
func (t *topicPublishers) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for topic, pub := range t.byTopic {
		pub.Stop()
		delete(t.byTopic, topic)
	}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return gcpPublisher{Publisher: p}
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	res := p.Publisher.Publish(ctx, msg)
	if res == nil {
		return nil
	}
	return gcpResult{res}
}

type gcpResult struct {
	*gcppubsub.PublishResult
}

func (r gcpResult) Get(ctx context.Context) (string, error) {
	if r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
