package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Relay forwards events published on Redis by any instance to the patient
// connections held by the local Hub.
type Relay struct {
	client redis.UniversalClient
	hub    *Hub
	log    zerolog.Logger
}

func NewRelay(client redis.UniversalClient, hub *Hub, log zerolog.Logger) *Relay {
	return &Relay{
		client: client,
		hub:    hub,
		log:    log.With().Str("component", "relay").Logger(),
	}
}

// Run blocks until ctx is done or the subscription fails.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe notifications: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			patientID, err := patientFromChannel(msg.Channel)
			if err != nil {
				r.log.Warn().Err(err).Msg("ignoring notification")
				continue
			}
			r.hub.Send(patientID, []byte(msg.Payload))
		}
	}
}
