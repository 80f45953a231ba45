package progress_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/quizjourney/internal/model"
	"github.com/stemsi/quizjourney/internal/progress"
	"github.com/stemsi/quizjourney/internal/progress/progresstest"
)

type stubRemote struct {
	err   error
	calls int
	block bool
}

func (r *stubRemote) UpsertProgress(ctx context.Context, _ *model.ProgressRecord) error {
	r.calls++
	if r.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return r.err
}

type stubFallback struct {
	err   error
	snaps []*model.FallbackSnapshot
}

func (f *stubFallback) SaveFallback(_ context.Context, snap *model.FallbackSnapshot) error {
	if f.err != nil {
		return f.err
	}
	f.snaps = append(f.snaps, snap)
	return nil
}

func sampleSave() (*model.ProgressRecord, *model.FallbackSnapshot) {
	now := time.Now()
	j := model.NewJourney("u-1", "A1", 4, now)
	rec := &model.ProgressRecord{UserID: "u-1", AssignmentID: "A1", Status: model.RecordStatusInProgress}
	snap := &model.FallbackSnapshot{Journey: *j, LastSaved: now}
	return rec, snap
}

func TestBridge_RemoteSuccess(t *testing.T) {
	remote := &stubRemote{}
	fallback := &stubFallback{}
	b := progress.NewBridge(remote, fallback, 0, zerolog.Nop())

	rec, snap := sampleSave()
	outcome := b.Save(context.Background(), rec, snap)

	assert.Equal(t, progress.SavedRemote, outcome)
	assert.Equal(t, 1, remote.calls)
	assert.Empty(t, fallback.snaps)
}

func TestBridge_FallsBackOnRemoteError(t *testing.T) {
	remote := &stubRemote{err: errors.New("connection refused")}
	fallback := &stubFallback{}
	b := progress.NewBridge(remote, fallback, 0, zerolog.Nop())

	rec, snap := sampleSave()
	outcome := b.Save(context.Background(), rec, snap)

	assert.Equal(t, progress.SavedFallback, outcome)
	assert.Equal(t, 1, remote.calls, "no retry beyond the single fallback")
	require.Len(t, fallback.snaps, 1)
	assert.Same(t, snap, fallback.snaps[0])
}

func TestBridge_FallbackFailureIsSwallowed(t *testing.T) {
	remote := &stubRemote{err: errors.New("boom")}
	fallback := &stubFallback{err: errors.New("redis down")}
	b := progress.NewBridge(remote, fallback, 0, zerolog.Nop())

	rec, snap := sampleSave()

	assert.NotPanics(t, func() {
		assert.Equal(t, progress.SaveFailed, b.Save(context.Background(), rec, snap))
	})
}

func TestBridge_RemoteTimeoutTriggersFallback(t *testing.T) {
	remote := &stubRemote{block: true}
	fallback := &stubFallback{}
	b := progress.NewBridge(remote, fallback, 20*time.Millisecond, zerolog.Nop())

	rec, snap := sampleSave()
	outcome := b.Save(context.Background(), rec, snap)

	assert.Equal(t, progress.SavedFallback, outcome)
	assert.Len(t, fallback.snaps, 1)
}

func TestBridge_CancelledContextStillWritesFallback(t *testing.T) {
	remote := &stubRemote{block: true}
	fallback := &stubFallback{}
	b := progress.NewBridge(remote, fallback, 0, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec, snap := sampleSave()

	assert.Equal(t, progress.SavedFallback, b.Save(ctx, rec, snap))
}

func TestBridge_NilStores(t *testing.T) {
	b := progress.NewBridge(nil, nil, 0, zerolog.Nop())
	rec, snap := sampleSave()
	assert.Equal(t, progress.SaveFailed, b.Save(context.Background(), rec, snap))
}

func TestSaveProgress_RemoteRejects_WritesFallback(t *testing.T) {
	clock := progresstest.NewManualClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	fallback := &stubFallback{}
	bridge := progress.NewBridge(&stubRemote{err: errors.New("rls violation")}, fallback, 0, zerolog.Nop())
	tr := progress.NewTracker(signedIn("u-7"), bridge, zerolog.Nop(), progress.WithClock(clock))
	defer tr.Close()

	require.NoError(t, tr.StartAttempt("A1", 4))
	require.NoError(t, tr.TrackQuestionStart("Q1", 0))
	require.NoError(t, tr.TrackQuestionAnswer("Q1", true, nil))

	outcome := tr.SaveProgress(context.Background())

	assert.Equal(t, progress.SavedFallback, outcome)
	require.Len(t, fallback.snaps, 1)
	snap := fallback.snaps[0]
	assert.Equal(t, "u-7", snap.UserID)
	assert.Equal(t, "A1", snap.AssignmentID)
	assert.False(t, snap.LastSaved.IsZero())
	assert.Equal(t, 25, snap.ProgressPercentage)
	assert.Equal(t, model.MilestoneInProgress, snap.Milestone)
}

func TestSaveOutcome_String(t *testing.T) {
	assert.Equal(t, "remote", progress.SavedRemote.String())
	assert.Equal(t, "fallback", progress.SavedFallback.String())
	assert.Equal(t, "failed", progress.SaveFailed.String())
	assert.Equal(t, "skipped", progress.SaveSkipped.String())
}

func TestFeedback(t *testing.T) {
	assert.Equal(t, "Progress: 75% - Halfway Complete", progress.Feedback(75, model.MilestoneHalfway))
}
