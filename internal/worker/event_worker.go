package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/quizjourney/internal/config"
	"github.com/stemsi/quizjourney/internal/model"
	"github.com/stemsi/quizjourney/internal/repository"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// EventWorker moves journey events from the Redis queue into progress_events.
type EventWorker struct {
	db  repository.DB
	rdb *redis.Client
	log zerolog.Logger

	batchSize    int
	batchTimeout time.Duration
	backoff      time.Duration
}

func NewEventWorker(db repository.DB, rdb *redis.Client, log zerolog.Logger) *EventWorker {
	return &EventWorker{
		db:           db,
		rdb:          rdb,
		log:          log.With().Str("component", "event_worker").Logger(),
		batchSize:    BatchSize,
		batchTimeout: BatchTimeout,
		backoff:      2 * time.Second,
	}
}

type queuedEvent struct {
	event model.ProgressEvent
	raw   []byte
}

func (w *EventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("EventWorker started")

	buffer := make([]queuedEvent, 0, w.batchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Flush on size or age
		if len(buffer) > 0 {
			if len(buffer) >= w.batchSize || time.Since(lastFlushTime) >= w.batchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		// 2. Graceful shutdown
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistProgressEventsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var ev model.ProgressEvent
		if err := json.Unmarshal([]byte(result[1]), &ev); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed event")
			continue
		}
		if len(buffer) == 0 {
			lastFlushTime = time.Now()
		}
		buffer = append(buffer, queuedEvent{event: ev, raw: []byte(result[1])})
	}
}

// flushSafe attempts the bulk insert, then row-by-row with requeue.
func (w *EventWorker) flushSafe(ctx context.Context, batch []queuedEvent) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	w.log.Debug().Int("count", len(batch)).Msg("Events persisted")
}

const insertEvent = `INSERT INTO progress_events
	(event_type, user_id, assignment_id, question_id, question_index, payload, occurred_at)
	VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6::jsonb, $7)`

func (w *EventWorker) bulkInsert(ctx context.Context, batch []queuedEvent) error {
	n := len(batch)
	types := make([]string, 0, n)
	users := make([]string, 0, n)
	assignments := make([]string, 0, n)
	questions := make([]string, 0, n)
	indexes := make([]int, 0, n)
	payloads := make([]string, 0, n)
	occurred := make([]time.Time, 0, n)

	for _, q := range batch {
		types = append(types, string(q.event.Type))
		users = append(users, q.event.UserID)
		assignments = append(assignments, q.event.AssignmentID)
		questions = append(questions, q.event.QuestionID)
		indexes = append(indexes, q.event.QuestionIndex)
		payloads = append(payloads, string(q.raw))
		occurred = append(occurred, q.event.OccurredAt)
	}

	_, err := w.db.Exec(ctx, `
		INSERT INTO progress_events
			(event_type, user_id, assignment_id, question_id, question_index, payload, occurred_at)
		SELECT u.event_type, u.user_id, u.assignment_id, NULLIF(u.question_id, ''),
		       u.question_index, u.payload::jsonb, u.occurred_at
		FROM UNNEST(
			$1::text[],
			$2::text[],
			$3::text[],
			$4::text[],
			$5::int[],
			$6::text[],
			$7::timestamptz[]
		) AS u (event_type, user_id, assignment_id, question_id, question_index, payload, occurred_at)`,
		types, users, assignments, questions, indexes, payloads, occurred,
	)
	return err
}

func (w *EventWorker) fallbackInsert(ctx context.Context, batch []queuedEvent) {
	requeueList := make([]queuedEvent, 0)

	for _, q := range batch {
		ev := q.event
		if ev.UserID == "" || ev.AssignmentID == "" {
			w.log.Error().Str("type", string(ev.Type)).Msg("Dropping event without user or assignment")
			continue
		}
		_, err := w.db.Exec(ctx, insertEvent,
			string(ev.Type), ev.UserID, ev.AssignmentID, ev.QuestionID, ev.QuestionIndex, string(q.raw), ev.OccurredAt,
		)
		if err != nil {
			w.log.Error().Err(err).Str("user_id", ev.UserID).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, q)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *EventWorker) requeue(ctx context.Context, items []queuedEvent) {
	pipe := w.rdb.Pipeline()
	for _, q := range items {
		pipe.RPush(ctx, config.WorkerKey.PersistProgressEventsQueue, q.raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue events to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed events back to Redis")
	time.Sleep(w.backoff)
}

func (w *EventWorker) shutdown(buffer []queuedEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
