package progress

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/quizjourney/internal/model"
)

// SaveOutcome reports where a snapshot ended up.
type SaveOutcome int

const (
	SaveSkipped SaveOutcome = iota
	SavedRemote
	SavedFallback
	SaveFailed
)

func (o SaveOutcome) String() string {
	switch o {
	case SavedRemote:
		return "remote"
	case SavedFallback:
		return "fallback"
	case SaveFailed:
		return "failed"
	default:
		return "skipped"
	}
}

var errNoRemote = errors.New("no remote store configured")

// RemoteStore is the durable progress store.
type RemoteStore interface {
	UpsertProgress(ctx context.Context, rec *model.ProgressRecord) error
}

// FallbackStore receives the full snapshot when the remote write fails.
type FallbackStore interface {
	SaveFallback(ctx context.Context, snap *model.FallbackSnapshot) error
}

// Bridge writes snapshots remotely and falls back to local storage once.
// There is no retry loop; progress loss is tolerated.
type Bridge struct {
	remote   RemoteStore
	fallback FallbackStore
	timeout  time.Duration
	log      zerolog.Logger
}

// NewBridge creates a Bridge. A zero timeout leaves the remote call bounded
// only by ctx.
func NewBridge(remote RemoteStore, fallback FallbackStore, timeout time.Duration, log zerolog.Logger) *Bridge {
	return &Bridge{
		remote:   remote,
		fallback: fallback,
		timeout:  timeout,
		log:      log.With().Str("component", "persistence_bridge").Logger(),
	}
}

// Save never returns an error; both outcomes are logged.
func (b *Bridge) Save(ctx context.Context, rec *model.ProgressRecord, snap *model.FallbackSnapshot) SaveOutcome {
	log := b.log.With().
		Str("user_id", rec.UserID).
		Str("assignment_id", rec.AssignmentID).
		Logger()

	err := b.writeRemote(ctx, rec)
	if err == nil {
		log.Debug().
			Str("status", string(rec.Status)).
			Int("questions_answered", rec.QuestionsAnswered).
			Msg("Progress saved")
		return SavedRemote
	}
	log.Error().Err(err).Msg("Remote progress write failed, using local fallback")

	if b.fallback == nil || snap == nil {
		return SaveFailed
	}
	// The caller's ctx may be what failed the remote write.
	fbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := b.fallback.SaveFallback(fbCtx, snap); err != nil {
		log.Error().Err(err).Msg("Local fallback write failed, progress not persisted")
		return SaveFailed
	}
	log.Warn().Msg("Progress saved to local fallback")
	return SavedFallback
}

func (b *Bridge) writeRemote(ctx context.Context, rec *model.ProgressRecord) error {
	if b.remote == nil {
		return errNoRemote
	}
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	return b.remote.UpsertProgress(ctx, rec)
}
