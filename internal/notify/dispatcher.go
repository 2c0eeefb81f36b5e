package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-admission/internal/metrics"
)

type DispatcherOptions struct {
	Buffer          int
	Workers         int
	DeliveryTimeout time.Duration
}

// Dispatcher fans events out to sinks from a bounded in-memory queue.
type Dispatcher struct {
	sinks  []Sink
	opts   DispatcherOptions
	log    zerolog.Logger
	queue  chan Event
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(sinks []Sink, opts DispatcherOptions, log zerolog.Logger) *Dispatcher {
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 3 * time.Second
	}

	d := &Dispatcher{
		sinks: sinks,
		opts:  opts,
		log:   log.With().Str("component", "notifier").Logger(),
		queue: make(chan Event, opts.Buffer),
	}

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

// Publish enqueues ev without blocking. A full queue drops the event.
func (d *Dispatcher) Publish(ev Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		metrics.NotificationDropped()
		return ErrClosed
	}

	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	select {
	case d.queue <- ev:
		return nil
	default:
		metrics.NotificationDropped()
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.DeliveryTimeout)
		err := sink.Deliver(ctx, ev)
		cancel()

		metrics.ObserveNotification(sink.Name(), err)
		if err != nil {
			d.log.Warn().Err(err).
				Str("sink", sink.Name()).
				Str("kind", string(ev.Kind)).
				Str("patient_id", ev.PatientID.String()).
				Str("appointment_id", ev.AppointmentID.String()).
				Msg("notification delivery failed")
		}
	}
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
