package progress

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/quizjourney/internal/model"
)

// DefaultTickInterval is how often running timers sample elapsed time.
const DefaultTickInterval = time.Second

// Precondition failures. The journey is left untouched when one is returned.
var (
	ErrNoCurrentUser      = errors.New("no current user")
	ErrInvalidAttempt     = errors.New("assignment id and a positive question count are required")
	ErrNoJourney          = errors.New("no active journey")
	ErrInvalidQuestion    = errors.New("invalid question id or index")
	ErrQuestionNotStarted = errors.New("question was never started")
	ErrJourneyCompleted   = errors.New("journey already finished")
)

// CurrentUser returns the identity the tracker records progress for.
// ok is false when nobody is signed in.
type CurrentUser func() (id model.Identity, ok bool)

// Saver persists a journey snapshot. Implementations must not return
// errors to the caller; the outcome is informational.
type Saver interface {
	Save(ctx context.Context, rec *model.ProgressRecord, snap *model.FallbackSnapshot) SaveOutcome
}

// EventSink receives an event after every journey mutation. Publish is
// called outside the tracker lock and should not block for long.
type EventSink interface {
	Publish(ev model.ProgressEvent)
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithTickInterval overrides DefaultTickInterval.
func WithTickInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithEventSink attaches a sink for journey events.
func WithEventSink(s EventSink) Option {
	return func(t *Tracker) { t.sink = s }
}

// Tracker is the single point of mutation for one active journey.
type Tracker struct {
	mu       sync.Mutex
	clock    Clock
	interval time.Duration
	user     CurrentUser
	saver    Saver
	sink     EventSink
	log      zerolog.Logger

	journey        *model.Journey
	total          stopwatch
	question       stopwatch
	activeQuestion string
	lastActivity   time.Time
}

// NewTracker creates a Tracker with no journey.
func NewTracker(user CurrentUser, saver Saver, log zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		clock:    SystemClock(),
		interval: DefaultTickInterval,
		user:     user,
		saver:    saver,
		log:      log.With().Str("component", "progress_tracker").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.lastActivity = t.clock.Now()
	return t
}

// StartAttempt discards any prior journey and begins a new one.
func (t *Tracker) StartAttempt(assignmentID string, totalQuestions int) error {
	var id model.Identity
	ok := false
	if t.user != nil {
		id, ok = t.user()
	}
	if !ok || id.UserID == "" {
		t.log.Warn().Str("assignment_id", assignmentID).Msg("Cannot start attempt without a current user")
		return ErrNoCurrentUser
	}
	if strings.TrimSpace(assignmentID) == "" || totalQuestions <= 0 {
		t.log.Warn().
			Str("assignment_id", assignmentID).
			Int("total_questions", totalQuestions).
			Msg("Rejected attempt with invalid parameters")
		return ErrInvalidAttempt
	}

	t.mu.Lock()
	now := t.clock.Now()
	t.total.halt(now)
	t.question.halt(now)
	t.journey = model.NewJourney(id.UserID, assignmentID, totalQuestions, now)
	t.activeQuestion = ""
	t.lastActivity = now
	t.total.start(t.clock, now, t.interval, t.onTotalTick)
	ev := t.event(model.EventAttemptStarted, now)
	t.mu.Unlock()

	t.log.Debug().
		Str("user_id", id.UserID).
		Str("assignment_id", assignmentID).
		Int("total_questions", totalQuestions).
		Msg("Attempt started")
	t.publish(ev)
	return nil
}

// TrackQuestionStart records entry into a question. Re-entering the
// question that is already active at the same index changes nothing.
func (t *Tracker) TrackQuestionStart(questionID string, questionIndex int) error {
	t.mu.Lock()
	j, err := t.mutable("track question start")
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if questionID == "" || questionIndex < 0 || questionIndex >= j.TotalQuestions {
		t.mu.Unlock()
		t.log.Warn().
			Str("question_id", questionID).
			Int("question_index", questionIndex).
			Msg("Rejected question start with invalid parameters")
		return ErrInvalidQuestion
	}

	now := t.clock.Now()
	t.lastActivity = now
	if t.question.running && t.activeQuestion == questionID && j.CurrentQuestionIndex == questionIndex {
		t.mu.Unlock()
		return nil
	}

	t.addQuestion(t.question.halt(now))

	q, seen := j.QuestionsProgress[questionID]
	if !seen {
		q = &model.QuestionProgress{QuestionID: questionID, StartedAt: now}
		j.QuestionsProgress[questionID] = q
	}
	q.QuestionIndex = questionIndex

	j.CurrentQuestionIndex = questionIndex
	j.CurrentQuestionID = questionID
	t.activeQuestion = questionID
	t.question.start(t.clock, now, t.interval, t.onQuestionTick)

	events := []model.ProgressEvent{t.questionEvent(model.EventQuestionStarted, q, now)}
	if j.Milestones.HalfwayComplete == nil && questionIndex >= j.TotalQuestions/2 {
		j.Milestones.HalfwayComplete = &now
		j.Status = model.JourneyStatusHalfway
		events = append(events, t.event(model.EventHalfwayReached, now))
	}
	t.mu.Unlock()

	t.publish(events...)
	return nil
}

// TrackQuestionAnswer records an answer for a started question. Repeated
// answers overwrite the previous timestamp, correctness and payload.
func (t *Tracker) TrackQuestionAnswer(questionID string, isCorrect bool, responseData json.RawMessage) error {
	t.mu.Lock()
	j, err := t.mutable("track question answer")
	if err != nil {
		t.mu.Unlock()
		return err
	}
	q, ok := j.QuestionsProgress[questionID]
	if !ok {
		t.mu.Unlock()
		t.log.Warn().Str("question_id", questionID).Msg("Answer for a question that was never started")
		return ErrQuestionNotStarted
	}

	now := t.clock.Now()
	t.lastActivity = now
	q.AnsweredAt = &now
	q.Attempts++
	correct := isCorrect
	q.IsCorrect = &correct
	q.ResponseData = nil
	if len(responseData) > 0 {
		q.ResponseData = append(json.RawMessage(nil), responseData...)
	}
	if j.Milestones.FirstQuestionAnswered == nil {
		j.Milestones.FirstQuestionAnswered = &now
	}
	ev := t.questionEvent(model.EventQuestionAnswered, q, now)
	ev.IsCorrect = &correct
	ev.Payload = q.ResponseData
	t.mu.Unlock()

	t.publish(ev)
	return nil
}

// TrackNavigation stops the question timer and moves the current index. The
// current question ID follows the index: the question last started there,
// or empty when none was.
func (t *Tracker) TrackNavigation(newIndex int) error {
	t.mu.Lock()
	j, err := t.mutable("track navigation")
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if newIndex < 0 {
		t.mu.Unlock()
		t.log.Warn().Int("new_index", newIndex).Msg("Rejected navigation to a negative index")
		return ErrInvalidQuestion
	}

	now := t.clock.Now()
	t.lastActivity = now
	t.addQuestion(t.question.halt(now))
	if newIndex == j.CurrentQuestionIndex {
		t.mu.Unlock()
		return nil
	}
	j.CurrentQuestionIndex = newIndex
	j.CurrentQuestionID = questionAt(j, newIndex)
	ev := t.event(model.EventQuestionNavigated, now)
	t.mu.Unlock()

	t.publish(ev)
	return nil
}

// CompleteJourney stops both timers, marks the journey COMPLETED and saves it.
func (t *Tracker) CompleteJourney(ctx context.Context, finalScore *float64) error {
	t.mu.Lock()
	j, err := t.mutable("complete journey")
	if err != nil {
		t.mu.Unlock()
		return err
	}
	now := t.clock.Now()
	t.stopTimers(now)
	t.lastActivity = now
	j.Status = model.JourneyStatusCompleted
	j.Milestones.Completed = &now
	if finalScore != nil {
		score := *finalScore
		j.FinalScore = &score
	}
	ev := t.event(model.EventJourneyCompleted, now)
	t.mu.Unlock()

	t.publish(ev)
	t.SaveProgress(ctx)
	return nil
}

// Abandon marks an unfinished journey ABANDONED, stops its timers and saves it.
func (t *Tracker) Abandon(ctx context.Context) error {
	t.mu.Lock()
	j, err := t.mutable("abandon journey")
	if err != nil {
		t.mu.Unlock()
		return err
	}
	now := t.clock.Now()
	t.stopTimers(now)
	j.Status = model.JourneyStatusAbandoned
	ev := t.event(model.EventJourneyAbandoned, now)
	t.mu.Unlock()

	t.publish(ev)
	t.SaveProgress(ctx)
	return nil
}

// Close stops every timer and discards the journey without saving.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimers(t.clock.Now())
	t.journey = nil
	t.activeQuestion = ""
}

// SaveProgress hands a snapshot to the Saver. It never fails; the outcome
// tells the caller where the snapshot ended up.
func (t *Tracker) SaveProgress(ctx context.Context) SaveOutcome {
	t.mu.Lock()
	if t.journey == nil {
		t.mu.Unlock()
		t.log.Warn().Msg("Save requested without an active journey")
		return SaveSkipped
	}
	now := t.clock.Now()
	t.sample(now)
	rec := buildRecord(t.journey, now)
	snap := buildFallback(t.journey, now)
	t.mu.Unlock()

	if t.saver == nil {
		return SaveSkipped
	}
	return t.saver.Save(ctx, rec, snap)
}

// ProgressPercentage returns round(100 * answered / total), or 0 without
// an active journey.
func (t *Tracker) ProgressPercentage() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return percentage(t.journey)
}

// TimeSpentOnQuestion returns the whole seconds accrued on a question.
func (t *Tracker) TimeSpentOnQuestion(questionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.journey == nil {
		return 0
	}
	t.sample(t.clock.Now())
	if q, ok := t.journey.QuestionsProgress[questionID]; ok {
		return q.TimeSpent
	}
	return 0
}

// CurrentMilestone returns the dashboard label for the journey.
func (t *Tracker) CurrentMilestone() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return milestone(t.journey)
}

// Snapshot returns a deep copy of the journey, or nil.
func (t *Tracker) Snapshot() *model.Journey {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.journey == nil {
		return nil
	}
	t.sample(t.clock.Now())
	return t.journey.Clone()
}

// Stats returns the derived statistics; ok is false without a journey.
func (t *Tracker) Stats() (stats model.ProgressStats, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.journey == nil {
		return model.ProgressStats{Milestone: model.MilestoneNotStarted, Status: model.JourneyStatusNotStarted}, false
	}
	t.sample(t.clock.Now())
	return buildStats(t.journey), true
}

// Active reports whether a journey exists and still accepts events.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.journey != nil && !t.journey.Status.Terminal()
}

// IdleSince returns the time of the last tracked event.
func (t *Tracker) IdleSince() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivity
}

// ─── internals (callers hold t.mu) ──────────────────────────────────

func (t *Tracker) mutable(op string) (*model.Journey, error) {
	if t.journey == nil {
		t.log.Warn().Str("op", op).Msg("No active journey")
		return nil, ErrNoJourney
	}
	if t.journey.Status.Terminal() {
		t.log.Warn().
			Str("op", op).
			Str("status", string(t.journey.Status)).
			Msg("Journey already finished")
		return nil, ErrJourneyCompleted
	}
	return t.journey, nil
}

func (t *Tracker) stopTimers(now time.Time) {
	t.addTotal(t.total.halt(now))
	t.addQuestion(t.question.halt(now))
}

func (t *Tracker) sample(now time.Time) {
	t.addTotal(t.total.sample(now))
	t.addQuestion(t.question.sample(now))
}

func (t *Tracker) addTotal(d time.Duration) {
	if d <= 0 || t.journey == nil {
		return
	}
	t.journey.Elapsed += d
	t.journey.TotalTimeSpent = int(t.journey.Elapsed / time.Second)
}

func (t *Tracker) addQuestion(d time.Duration) {
	if d <= 0 || t.journey == nil {
		return
	}
	q, ok := t.journey.QuestionsProgress[t.activeQuestion]
	if !ok {
		return
	}
	q.Elapsed += d
	q.TimeSpent = int(q.Elapsed / time.Second)
}

func (t *Tracker) onTotalTick(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.total.running || t.total.gen != gen {
		return
	}
	t.addTotal(t.total.sample(t.clock.Now()))
}

func (t *Tracker) onQuestionTick(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.question.running || t.question.gen != gen {
		return
	}
	t.addQuestion(t.question.sample(t.clock.Now()))
}

func (t *Tracker) event(typ model.EventType, now time.Time) model.ProgressEvent {
	j := t.journey
	return model.ProgressEvent{
		Type:               typ,
		UserID:             j.UserID,
		AssignmentID:       j.AssignmentID,
		QuestionIndex:      j.CurrentQuestionIndex,
		Status:             j.Status,
		ProgressPercentage: percentage(j),
		OccurredAt:         now,
	}
}

func (t *Tracker) questionEvent(typ model.EventType, q *model.QuestionProgress, now time.Time) model.ProgressEvent {
	ev := t.event(typ, now)
	ev.QuestionID = q.QuestionID
	ev.QuestionIndex = q.QuestionIndex
	return ev
}

func (t *Tracker) publish(events ...model.ProgressEvent) {
	if t.sink == nil {
		return
	}
	for _, ev := range events {
		t.sink.Publish(ev)
	}
}

// questionAt returns the ID of the question started at index, or "".
func questionAt(j *model.Journey, index int) string {
	for id, q := range j.QuestionsProgress {
		if q.QuestionIndex == index {
			return id
		}
	}
	return ""
}
