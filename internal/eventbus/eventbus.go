package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-mesh/internal/config"
	"github.com/isqad/livelook-mesh/internal/hub"
	"github.com/isqad/livelook-mesh/internal/telemetry"
)

const (
	presenceChannel   = "presence"
	defaultFeedBuffer = 256
	publishTimeout    = 2 * time.Second
)

// Publisher mirrors hub presence to an external bus
type Publisher interface {
	Publish(ctx context.Context, event hub.PresenceEvent) error
	Close() error
}

// Feed is a hub observer that hands presence events to a Publisher off the hub's critical path.
// Events are dropped, and counted, when the buffer is full.
type Feed struct {
	publisher Publisher

	events chan hub.PresenceEvent
	stop   chan struct{}
	done   chan struct{}

	lock    sync.Mutex
	started bool
	stopped bool
}

func NewFeed(publisher Publisher, buffer int) *Feed {
	if buffer <= 0 {
		buffer = defaultFeedBuffer
	}

	return &Feed{
		publisher: publisher,
		events:    make(chan hub.PresenceEvent, buffer),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (f *Feed) OnPresence(event hub.PresenceEvent) {
	select {
	case <-f.stop:
		telemetry.Operation("presence_feed", telemetry.StatusDropped, "stopped")
		return
	default:
	}

	select {
	case f.events <- event:
	default:
		telemetry.Operation("presence_feed", telemetry.StatusDropped, "buffer_full")
	}
}

// Start runs the publish loop. The returned channel is closed once the loop is running.
func (f *Feed) Start() <-chan struct{} {
	log.Debug().Str("service", "eventbus").Msg("start presence feed")

	ready := make(chan struct{})

	f.lock.Lock()
	defer f.lock.Unlock()
	if f.started || f.stopped {
		close(ready)
		return ready
	}
	f.started = true

	go func() {
		defer close(f.done)
		close(ready)

		for {
			select {
			case event := <-f.events:
				f.publish(event)
			case <-f.stop:
				f.drain()
				return
			}
		}
	}()

	return ready
}

// Stop publishes what is already buffered and closes the publisher. The returned channel is closed
// when that is done.
func (f *Feed) Stop() <-chan struct{} {
	stopped := make(chan struct{})

	f.lock.Lock()
	alreadyStopped, started := f.stopped, f.started
	if !f.stopped {
		f.stopped = true
		close(f.stop)
	}
	f.lock.Unlock()

	go func() {
		defer close(stopped)

		if alreadyStopped {
			return
		}
		if started {
			<-f.done
		}
		if err := f.publisher.Close(); err != nil {
			log.Error().Err(err).Str("service", "eventbus").Msg("can't close presence publisher")
		}
	}()

	return stopped
}

func (f *Feed) drain() {
	for {
		select {
		case event := <-f.events:
			f.publish(event)
		default:
			return
		}
	}
}

func (f *Feed) publish(event hub.PresenceEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := f.publisher.Publish(ctx, event); err != nil {
		telemetry.Operation("presence_feed", telemetry.StatusError, "publish")
		log.Error().
			Err(err).
			Str("service", "eventbus").
			Str("room", event.Room).
			Str("participant_id", event.ParticipantID).
			Msg("can't publish presence event")
		return
	}

	telemetry.Operation("presence_feed", telemetry.StatusSuccess, "")
}

// NewPublisher picks the publisher for the configured driver. It returns nil for the none driver.
func NewPublisher(conf config.EventBusConfig) (Publisher, error) {
	switch conf.Driver {
	case config.EventBusNone, "":
		return nil, nil
	case config.EventBusRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr: conf.RedisAddr,
			DB:   conf.RedisDB,
		})
		return RedisPubSub(rdb), nil
	case config.EventBusNATS:
		return NewNATSPublisher(conf.NatsURL)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownEventBusDriver, conf.Driver)
	}
}

func encode(event hub.PresenceEvent) ([]byte, error) {
	return json.Marshal(event)
}
