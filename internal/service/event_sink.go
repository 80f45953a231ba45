package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/quizjourney/internal/config"
	"github.com/stemsi/quizjourney/internal/model"
)

// DefaultEventBuffer is the number of events held before Publish drops.
const DefaultEventBuffer = 1024

// EventSink forwards journey events to Redis: RPUSH onto the persistence
// queue and PUBLISH to the assignment monitor channel. Publish never blocks;
// events are shipped by Run.
type EventSink struct {
	rdb    *redis.Client
	events chan model.ProgressEvent
	log    zerolog.Logger
}

// NewEventSink creates an EventSink with the given buffer size.
func NewEventSink(rdb *redis.Client, buffer int, log zerolog.Logger) *EventSink {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &EventSink{
		rdb:    rdb,
		events: make(chan model.ProgressEvent, buffer),
		log:    log.With().Str("component", "event_sink").Logger(),
	}
}

// Publish enqueues an event, dropping it when the buffer is full.
func (s *EventSink) Publish(ev model.ProgressEvent) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn().
			Str("type", string(ev.Type)).
			Str("assignment_id", ev.AssignmentID).
			Msg("Event buffer full, dropping event")
	}
}

// Run ships buffered events until ctx is cancelled, then drains what is left.
func (s *EventSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case ev := <-s.events:
			s.ship(ctx, s.collect(ev))
		}
	}
}

// collect gathers ev plus whatever is already buffered, up to one batch.
func (s *EventSink) collect(ev model.ProgressEvent) []model.ProgressEvent {
	batch := []model.ProgressEvent{ev}
	for len(batch) < 100 {
		select {
		case next := <-s.events:
			batch = append(batch, next)
		default:
			return batch
		}
	}
	return batch
}

func (s *EventSink) ship(ctx context.Context, batch []model.ProgressEvent) {
	pipe := s.rdb.Pipeline()
	for _, ev := range batch {
		raw, err := json.Marshal(ev)
		if err != nil {
			s.log.Error().Err(err).Str("type", string(ev.Type)).Msg("Discarding unencodable event")
			continue
		}
		pipe.RPush(ctx, config.WorkerKey.PersistProgressEventsQueue, raw)
		pipe.Publish(ctx, config.CacheKey.AssignmentMonitorChannel(ev.AssignmentID), raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error().Err(err).Int("count", len(batch)).Msg("Failed to ship events to Redis")
	}
}

func (s *EventSink) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case ev := <-s.events:
			s.ship(ctx, s.collect(ev))
		default:
			return
		}
	}
}
