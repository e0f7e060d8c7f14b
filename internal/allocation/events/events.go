// Package events publishes booking lifecycle events.
package events

import (
	"context"
	"fmt"
	"time"

	"slotbook/pkg/kafka"
	"slotbook/pkg/model"
)

const (
	EventBookingAllocated = "booking.allocated"
	EventBookingReleased  = "booking.released"

	SchemaVersion = "1"
)

type BookingAllocated struct {
	Pool            string                `json:"pool"`
	BookingID       string                `json:"booking_id"`
	RequestID       string                `json:"request_id"`
	RequestCategory model.RequestCategory `json:"request_category"`
	UnitID          string                `json:"unit_id"`
	UnitCategory    model.UnitCategory    `json:"unit_category"`
	StartTime       int64                 `json:"start_time"`
}

type BookingReleased struct {
	Pool          string       `json:"pool"`
	BookingID     string       `json:"booking_id"`
	UnitID        string       `json:"unit_id"`
	EndTime       int64        `json:"end_time"`
	DurationUnits int64        `json:"duration_units"`
	Fee           model.Amount `json:"fee"`
	Strategy      string       `json:"strategy"`
	// PricingError is set when the unit was freed but no fee could be computed.
	PricingError string `json:"pricing_error,omitempty"`
}

// Publisher delivers booking events. Delivery is best effort; callers log
// failures and carry on.
type Publisher interface {
	BookingAllocated(ctx context.Context, correlationID string, evt BookingAllocated) error
	BookingReleased(ctx context.Context, correlationID string, evt BookingReleased) error
	Close() error
}

// EventPublisher is the part of *kafka.Producer the publisher needs.
type EventPublisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	producer EventPublisher
	source   string
	timeout  time.Duration
}

// NewKafkaPublisher bounds every publish by timeout; zero means no bound
// beyond the caller's context.
func NewKafkaPublisher(producer EventPublisher, source string, timeout time.Duration) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, source: source, timeout: timeout}
}

func (p *KafkaPublisher) BookingAllocated(ctx context.Context, correlationID string, evt BookingAllocated) error {
	return p.publish(ctx, EventBookingAllocated, evt.BookingID, correlationID, evt)
}

func (p *KafkaPublisher) BookingReleased(ctx context.Context, correlationID string, evt BookingReleased) error {
	return p.publish(ctx, EventBookingReleased, evt.BookingID, correlationID, evt)
}

func (p *KafkaPublisher) publish(ctx context.Context, eventType, key, correlationID string, payload any) error {
	msg, err := kafka.NewMessage().
		WithKey(key).
		WithValue(payload).
		WithEventID("").
		WithEventType(eventType).
		WithSchemaVersion(SchemaVersion).
		WithSource(p.source).
		WithCorrelationID(correlationID).
		Build()
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.producer.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event for %s: %w", eventType, key, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NopPublisher drops every event. Used when events are disabled.
type NopPublisher struct{}

func (NopPublisher) BookingAllocated(context.Context, string, BookingAllocated) error { return nil }
func (NopPublisher) BookingReleased(context.Context, string, BookingReleased) error   { return nil }
func (NopPublisher) Close() error                                                     { return nil }
