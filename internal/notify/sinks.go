package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "notifications:patient:"

// ChannelFor is the Redis pub/sub channel carrying a patient's events.
func ChannelFor(patientID uuid.UUID) string {
	return channelPrefix + patientID.String()
}

func patientFromChannel(channel string) (uuid.UUID, error) {
	if !strings.HasPrefix(channel, channelPrefix) {
		return uuid.Nil, fmt.Errorf("unexpected channel %q", channel)
	}
	return uuid.Parse(strings.TrimPrefix(channel, channelPrefix))
}

// RedisSink publishes events so that every API instance can reach the
// patient's open connections.
type RedisSink struct {
	client redis.UniversalClient
}

func NewRedisSink(client redis.UniversalClient) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, ChannelFor(ev.PatientID), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	return nil
}

// EventStore appends audit records.
type EventStore interface {
	AppendEvent(ctx context.Context, eventType string, appointmentID uuid.UUID, payload []byte, at time.Time) error
}

// EventLogSink keeps an audit trail of every event in the database.
type EventLogSink struct {
	store EventStore
}

func NewEventLogSink(store EventStore) *EventLogSink {
	return &EventLogSink{store: store}
}

func (s *EventLogSink) Name() string { return "event_log" }

func (s *EventLogSink) Deliver(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.store.AppendEvent(ctx, string(ev.Kind), ev.AppointmentID, data, ev.OccurredAt)
}
