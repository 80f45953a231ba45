package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/quizjourney/internal/model"
	"github.com/stemsi/quizjourney/internal/progress"
)

// ErrHistoryNotFound is returned when neither store holds a saved attempt.
var ErrHistoryNotFound = errors.New("no saved progress")

// ProgressStore reads persisted progress records.
type ProgressStore interface {
	GetByUserAndAssignment(ctx context.Context, userID, assignmentID string) (*model.ProgressRecord, error)
	ListByAssignment(ctx context.Context, assignmentID string, limit int) ([]model.ProgressRecord, error)
}

// SnapshotStore reads fallback snapshots.
type SnapshotStore interface {
	GetFallback(ctx context.Context, userID, assignmentID string) (*model.FallbackSnapshot, error)
}

// JourneyKey identifies one live tracker.
type JourneyKey struct {
	UserID       string
	AssignmentID string
}

// ProgressOption customises a ProgressService.
type ProgressOption func(*ProgressService)

// WithServiceClock replaces the clock used for idle checks, the flush
// ticker and every tracker the service creates.
func WithServiceClock(c progress.Clock) ProgressOption {
	return func(s *ProgressService) { s.clock = c }
}

// WithTrackerOptions adds options to every tracker the service creates.
func WithTrackerOptions(opts ...progress.Option) ProgressOption {
	return func(s *ProgressService) { s.trackerOpts = append(s.trackerOpts, opts...) }
}

// liveJourney is a hosted tracker and the number of connections holding it.
type liveJourney struct {
	tracker *progress.Tracker
	holders int
}

// ProgressService hosts the live trackers of every connected user.
type ProgressService struct {
	saver     progress.Saver
	records   ProgressStore
	snapshots SnapshotStore
	sink      progress.EventSink

	flushInterval time.Duration
	idleTimeout   time.Duration
	clock         progress.Clock
	trackerOpts   []progress.Option
	base          zerolog.Logger
	log           zerolog.Logger

	mu       sync.Mutex
	trackers map[JourneyKey]*liveJourney
}

// NewProgressService creates a ProgressService. sink may be nil.
func NewProgressService(
	saver progress.Saver,
	records ProgressStore,
	snapshots SnapshotStore,
	sink progress.EventSink,
	flushInterval, idleTimeout time.Duration,
	log zerolog.Logger,
	opts ...ProgressOption,
) *ProgressService {
	s := &ProgressService{
		saver:         saver,
		records:       records,
		snapshots:     snapshots,
		sink:          sink,
		flushInterval: flushInterval,
		idleTimeout:   idleTimeout,
		clock:         progress.SystemClock(),
		base:          log,
		log:           log.With().Str("component", "progress_service").Logger(),
		trackers:      make(map[JourneyKey]*liveJourney),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins a new attempt, replacing any journey already live for the key.
func (s *ProgressService) Start(id model.Identity, assignmentID string, totalQuestions int) (model.ProgressStats, error) {
	key := JourneyKey{UserID: id.UserID, AssignmentID: assignmentID}
	t, created := s.tracker(key, id)
	if err := t.StartAttempt(assignmentID, totalQuestions); err != nil {
		if created {
			s.discard(key, t)
		}
		return model.ProgressStats{}, err
	}
	stats, _ := t.Stats()
	return stats, nil
}

// QuestionStart records entry into a question.
func (s *ProgressService) QuestionStart(id model.Identity, assignmentID, questionID string, index int) (model.ProgressStats, error) {
	return s.apply(id, assignmentID, func(t *progress.Tracker) error {
		return t.TrackQuestionStart(questionID, index)
	})
}

// Answer records an answer to a started question.
func (s *ProgressService) Answer(id model.Identity, assignmentID, questionID string, isCorrect bool, data json.RawMessage) (model.ProgressStats, error) {
	return s.apply(id, assignmentID, func(t *progress.Tracker) error {
		return t.TrackQuestionAnswer(questionID, isCorrect, data)
	})
}

// Navigate moves the current question index.
func (s *ProgressService) Navigate(id model.Identity, assignmentID string, newIndex int) (model.ProgressStats, error) {
	return s.apply(id, assignmentID, func(t *progress.Tracker) error {
		return t.TrackNavigation(newIndex)
	})
}

// Complete finishes the journey and saves it.
func (s *ProgressService) Complete(ctx context.Context, id model.Identity, assignmentID string, finalScore *float64) (model.ProgressStats, error) {
	return s.apply(id, assignmentID, func(t *progress.Tracker) error {
		return t.CompleteJourney(ctx, finalScore)
	})
}

// Stats returns the live statistics for a journey.
func (s *ProgressService) Stats(id model.Identity, assignmentID string) (model.ProgressStats, error) {
	t, ok := s.lookup(id.UserID, assignmentID)
	if !ok {
		return model.ProgressStats{}, progress.ErrNoJourney
	}
	stats, ok := t.Stats()
	if !ok {
		return stats, progress.ErrNoJourney
	}
	return stats, nil
}

// QuestionTime returns the whole seconds spent on a question.
func (s *ProgressService) QuestionTime(id model.Identity, assignmentID, questionID string) (int, error) {
	t, ok := s.lookup(id.UserID, assignmentID)
	if !ok {
		return 0, progress.ErrNoJourney
	}
	return t.TimeSpentOnQuestion(questionID), nil
}

// Save persists the journey now.
func (s *ProgressService) Save(ctx context.Context, id model.Identity, assignmentID string) (progress.SaveOutcome, error) {
	t, ok := s.lookup(id.UserID, assignmentID)
	if !ok {
		return progress.SaveSkipped, progress.ErrNoJourney
	}
	return t.SaveProgress(ctx), nil
}

// Acquire registers one more connection driving the key's journey. Every
// Acquire is paired with a Release.
func (s *ProgressService) Acquire(id model.Identity, assignmentID string) {
	key := JourneyKey{UserID: id.UserID, AssignmentID: assignmentID}
	s.mu.Lock()
	defer s.mu.Unlock()
	lj, _ := s.hostLocked(key, id)
	lj.holders++
}

// Release detaches one holder. The last holder, or any caller when no
// connection holds the journey, saves it and drops its tracker. Releasing
// an unknown key is a no-op.
func (s *ProgressService) Release(ctx context.Context, id model.Identity, assignmentID string) {
	key := JourneyKey{UserID: id.UserID, AssignmentID: assignmentID}
	s.mu.Lock()
	lj, ok := s.trackers[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	if lj.holders > 1 {
		lj.holders--
		holders := lj.holders
		s.mu.Unlock()
		s.log.Debug().
			Str("user_id", key.UserID).
			Str("assignment_id", key.AssignmentID).
			Int("holders", holders).
			Msg("Journey still held")
		return
	}
	delete(s.trackers, key)
	s.mu.Unlock()

	t := lj.tracker

	if t.Snapshot() != nil {
		t.SaveProgress(ctx)
	}
	t.Close()
	s.log.Debug().Str("user_id", key.UserID).Str("assignment_id", key.AssignmentID).Msg("Journey released")
}

// History returns the last saved attempt, preferring the remote store.
func (s *ProgressService) History(ctx context.Context, id model.Identity, assignmentID string) (*model.ProgressHistory, error) {
	if s.records != nil {
		rec, err := s.records.GetByUserAndAssignment(ctx, id.UserID, assignmentID)
		if err == nil {
			return &model.ProgressHistory{Source: "remote", Record: rec}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			s.log.Warn().Err(err).Str("assignment_id", assignmentID).Msg("Remote history read failed, trying fallback")
		}
	}

	if s.snapshots == nil {
		return nil, ErrHistoryNotFound
	}
	snap, err := s.snapshots.GetFallback(ctx, id.UserID, assignmentID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrHistoryNotFound
		}
		return nil, fmt.Errorf("read fallback: %w", err)
	}
	return &model.ProgressHistory{Source: "fallback", Snapshot: snap}, nil
}

// AssignmentRecords lists persisted records for an assignment, newest first.
func (s *ProgressService) AssignmentRecords(ctx context.Context, assignmentID string, limit int) ([]model.ProgressRecord, error) {
	if s.records == nil {
		return nil, nil
	}
	records, err := s.records.ListByAssignment(ctx, assignmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return records, nil
}

// Live returns the number of hosted trackers.
func (s *ProgressService) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trackers)
}

// Run flushes active journeys every flush interval and evicts idle ones
// until ctx is cancelled.
func (s *ProgressService) Run(ctx context.Context) {
	if s.flushInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := s.clock.NewTicker(s.flushInterval)
	defer ticker.Stop()

	s.log.Info().
		Dur("flush_interval", s.flushInterval).
		Dur("idle_timeout", s.idleTimeout).
		Msg("Progress flusher started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.Flush(ctx)
		}
	}
}

// Flush saves every active journey. Journeys idle past the idle timeout
// are abandoned when still open, then evicted.
func (s *ProgressService) Flush(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	idle := make(map[JourneyKey]*progress.Tracker)
	active := make([]*progress.Tracker, 0, len(s.trackers))
	for key, lj := range s.trackers {
		t := lj.tracker
		if s.idleTimeout > 0 && now.Sub(t.IdleSince()) >= s.idleTimeout {
			idle[key] = t
			delete(s.trackers, key)
			continue
		}
		if t.Active() {
			active = append(active, t)
		}
	}
	s.mu.Unlock()

	saved, failed := 0, 0
	for _, t := range active {
		if t.SaveProgress(ctx) == progress.SaveFailed {
			failed++
		} else {
			saved++
		}
	}
	for key, t := range idle {
		if err := t.Abandon(ctx); err != nil {
			s.log.Debug().
				Err(err).
				Str("user_id", key.UserID).
				Str("assignment_id", key.AssignmentID).
				Msg("Idle journey evicted without abandoning")
		}
		t.Close()
	}

	if len(active) > 0 || len(idle) > 0 {
		s.log.Debug().
			Int("saved", saved).
			Int("failed", failed).
			Int("evicted", len(idle)).
			Msg("Progress flush")
	}
}

// Shutdown saves every active journey and drops all trackers.
func (s *ProgressService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	all := make([]*progress.Tracker, 0, len(s.trackers))
	for _, lj := range s.trackers {
		all = append(all, lj.tracker)
	}
	s.trackers = make(map[JourneyKey]*liveJourney)
	s.mu.Unlock()

	for _, t := range all {
		if t.Active() {
			t.SaveProgress(ctx)
		}
		t.Close()
	}
	s.log.Info().Int("count", len(all)).Msg("Live journeys saved")
}

func (s *ProgressService) apply(id model.Identity, assignmentID string, fn func(*progress.Tracker) error) (model.ProgressStats, error) {
	t, ok := s.lookup(id.UserID, assignmentID)
	if !ok {
		return model.ProgressStats{}, progress.ErrNoJourney
	}
	if err := fn(t); err != nil {
		return model.ProgressStats{}, err
	}
	stats, _ := t.Stats()
	return stats, nil
}

func (s *ProgressService) lookup(userID, assignmentID string) (*progress.Tracker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lj, ok := s.trackers[JourneyKey{UserID: userID, AssignmentID: assignmentID}]
	if !ok {
		return nil, false
	}
	return lj.tracker, true
}

// tracker returns the key's tracker, creating it when missing.
func (s *ProgressService) tracker(key JourneyKey, id model.Identity) (*progress.Tracker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lj, created := s.hostLocked(key, id)
	return lj.tracker, created
}

// hostLocked returns the key's entry, creating it when missing. s.mu must
// be held.
func (s *ProgressService) hostLocked(key JourneyKey, id model.Identity) (*liveJourney, bool) {
	if lj, ok := s.trackers[key]; ok {
		return lj, false
	}

	user := func() (model.Identity, bool) { return id, id.UserID != "" }
	opts := append([]progress.Option{progress.WithClock(s.clock)}, s.trackerOpts...)
	if s.sink != nil {
		opts = append(opts, progress.WithEventSink(s.sink))
	}
	t := progress.NewTracker(user, s.saver, s.base, opts...)
	lj := &liveJourney{tracker: t}
	s.trackers[key] = lj
	return lj, true
}

// discard drops a tracker that never held a journey, unless a connection
// acquired it meanwhile.
func (s *ProgressService) discard(key JourneyKey, t *progress.Tracker) {
	s.mu.Lock()
	lj, ok := s.trackers[key]
	if !ok || lj.tracker != t || lj.holders > 0 {
		s.mu.Unlock()
		return
	}
	delete(s.trackers, key)
	s.mu.Unlock()
	t.Close()
}
