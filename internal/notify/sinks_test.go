package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestChannelFor_RoundTrip(t *testing.T) {
	p := uuid.New()
	got, err := patientFromChannel(ChannelFor(p))
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = patientFromChannel("notifications:doctor:" + p.String())
	assert.Error(t, err)
	_, err = patientFromChannel(channelPrefix + "not-a-uuid")
	assert.Error(t, err)
}

func TestRedisSink_PublishesOnPatientChannel(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	ev := testEvent(KindBookingCreated)
	sub := rdb.Subscribe(ctx, ChannelFor(ev.PatientID))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, NewRedisSink(rdb).Deliver(ctx, ev))

	select {
	case msg := <-sub.Channel():
		var got Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, ev.Kind, got.Kind)
		assert.Equal(t, ev.PatientID, got.PatientID)
		assert.Equal(t, ev.AppointmentID, got.AppointmentID)
		assert.Equal(t, ev.Message, got.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

type fakeEventStore struct {
	eventType     string
	appointmentID uuid.UUID
	payload       []byte
}

func (s *fakeEventStore) AppendEvent(ctx context.Context, eventType string, appointmentID uuid.UUID, payload []byte, at time.Time) error {
	s.eventType, s.appointmentID, s.payload = eventType, appointmentID, payload
	return nil
}

func TestEventLogSink_StoresPayload(t *testing.T) {
	store := &fakeEventStore{}
	ev := testEvent(KindBookingCancelled)

	require.NoError(t, NewEventLogSink(store).Deliver(context.Background(), ev))
	assert.Equal(t, "BookingCancelled", store.eventType)
	assert.Equal(t, ev.AppointmentID, store.appointmentID)
	assert.Contains(t, string(store.payload), `"related_appointment_id":"`+ev.AppointmentID.String()+`"`)
}

func TestRelay_ForwardsToLocalConnections(t *testing.T) {
	rdb := newTestRedis(t)
	hub := NewHub(zerolog.Nop())

	patient := uuid.New()
	conn := newFakeConn()
	go hub.serve(conn, patient)
	require.Eventually(t, func() bool { return hub.ClientCount(patient) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	relayDone := make(chan error, 1)
	go func() { relayDone <- NewRelay(rdb, hub, zerolog.Nop()).Run(ctx) }()

	sink := NewRedisSink(rdb)
	ev := testEvent(KindStatusChanged)
	ev.PatientID = patient

	// publish until the relay's subscription is live
	var payload []byte
	require.Eventually(t, func() bool {
		if err := sink.Deliver(context.Background(), ev); err != nil {
			return false
		}
		select {
		case payload = <-conn.written:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	var got Event
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, KindStatusChanged, got.Kind)

	cancel()
	select {
	case err := <-relayDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
	_ = conn.Close()
}
