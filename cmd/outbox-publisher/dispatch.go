package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox/registry"
)

type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetry
	outcomeDeadLetter
)

// delivery is the result of trying to publish one outbox row.
type delivery struct {
	event   models.OutboxEvent
	topic   string
	eventID string
	outcome outcome
	reason  enums.OutboxDLQErrorReason
	err     error
}

// processBatch returns how many rows it settled.
func (s *Service) processBatch(ctx context.Context) (int, error) {
	count := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		for _, d := range s.publishAll(ctx, events) {
			if err := s.settle(ctx, tx, d); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// publishAll publishes events concurrently. Results keep the input order.
func (s *Service) publishAll(ctx context.Context, events []models.OutboxEvent) []delivery {
	out := make([]delivery, len(events))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range events {
		g.Go(func() error {
			out[i] = s.deliver(ctx, events[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Service) deliver(ctx context.Context, event models.OutboxEvent) delivery {
	d := delivery{event: event}

	resolved, err := s.registry.Resolve(event)
	if err != nil {
		d.outcome, d.reason, d.err = outcomeDeadLetter, enums.OutboxDLQReasonNonRetryable, err
		return d
	}
	d.topic, d.eventID = resolved.Descriptor.Topic, resolved.Envelope.EventID

	err = s.publish(ctx, event, resolved)
	var nonRetryable registry.NonRetryableError
	switch {
	case err == nil:
		d.outcome = outcomePublished
	case errors.As(err, &nonRetryable):
		d.outcome, d.reason, d.err = outcomeDeadLetter, enums.OutboxDLQReasonNonRetryable, err
	case event.AttemptCount+1 >= s.maxAttempts:
		d.outcome, d.reason = outcomeDeadLetter, enums.OutboxDLQReasonMaxAttempts
		d.err = fmt.Errorf("max publish attempts reached: %w", err)
	default:
		d.outcome, d.err = outcomeRetry, err
	}
	return d
}

func (s *Service) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publishers.get(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()

	result := pub.Publish(publishCtx, &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned no result for topic %s", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

// settle records a delivery's outcome inside the batch transaction.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, d delivery) error {
	event := d.event
	ctx = s.logg.WithFields(ctx, s.eventFields(d))

	switch d.outcome {
	case outcomePublished:
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.metrics.Inc(string(event.EventType), "published")
		s.logg.Info(ctx, "outbox event published")

	case outcomeRetry:
		if err := s.repo.MarkFailedTx(tx, event.ID, d.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", event.ID, err)
		}
		s.metrics.Inc(string(event.EventType), "retry")
		s.logg.Warn(s.logg.WithField(ctx, "error", d.err.Error()), "outbox publish failed, will retry")

	case outcomeDeadLetter:
		entry := event.DeadLetter(d.reason, errorMessage(d.err), time.Now().UTC())
		if err := s.dlq.InsertTx(tx, entry); err != nil {
			return fmt.Errorf("insert dlq %s: %w", event.ID, err)
		}
		if err := s.repo.MarkTerminalTx(tx, event.ID, d.err, s.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", event.ID, err)
		}
		s.metrics.Inc(string(event.EventType), "dead_letter")
		s.logg.Warn(s.logg.WithField(ctx, "error", errorText(d.err)), "outbox event dead-lettered")
	}
	return nil
}

func (s *Service) eventFields(d delivery) map[string]any {
	fields := map[string]any{
		"outbox_id":      d.event.ID.String(),
		"event_type":     d.event.EventType,
		"aggregate_type": d.event.AggregateType,
		"aggregate_id":   d.event.AggregateID.String(),
		"attempt_count":  d.event.AttemptCount,
	}
	if d.eventID != "" {
		fields["event_id"] = d.eventID
	}
	if d.topic != "" {
		fields["topic"] = d.topic
	}
	if d.outcome == outcomeDeadLetter {
		fields["error_reason"] = d.reason
	}
	return fields
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func errorMessage(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}
