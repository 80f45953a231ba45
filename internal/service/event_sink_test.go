package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/quizjourney/internal/config"
	"github.com/stemsi/quizjourney/internal/model"
	"github.com/stemsi/quizjourney/internal/service"
)

func TestEventSink_ShipsToQueueAndChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := rdb.Subscribe(ctx, config.CacheKey.AssignmentMonitorChannel("A1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	sink := service.NewEventSink(rdb, 16, zerolog.Nop())
	go sink.Run(ctx)

	sink.Publish(model.ProgressEvent{Type: model.EventAttemptStarted, UserID: "u-1", AssignmentID: "A1"})
	sink.Publish(model.ProgressEvent{Type: model.EventQuestionStarted, UserID: "u-1", AssignmentID: "A1", QuestionID: "Q1"})

	require.Eventually(t, func() bool {
		items, _ := mr.List(config.WorkerKey.PersistProgressEventsQueue)
		return len(items) == 2
	}, 2*time.Second, 5*time.Millisecond)

	items, _ := mr.List(config.WorkerKey.PersistProgressEventsQueue)
	var first model.ProgressEvent
	require.NoError(t, json.Unmarshal([]byte(items[0]), &first))
	assert.Equal(t, model.EventAttemptStarted, first.Type)

	select {
	case msg := <-sub.Channel():
		assert.Contains(t, msg.Payload, `"attempt_started"`)
	case <-time.After(2 * time.Second):
		t.Fatal("no monitor message")
	}
}

func TestEventSink_DropsWhenFull(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	sink := service.NewEventSink(rdb, 1, zerolog.Nop())
	ev := model.ProgressEvent{Type: model.EventAttemptStarted, AssignmentID: "A1"}

	assert.NotPanics(t, func() {
		sink.Publish(ev)
		sink.Publish(ev)
		sink.Publish(ev)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)

	require.Eventually(t, func() bool {
		items, _ := mr.List(config.WorkerKey.PersistProgressEventsQueue)
		return len(items) == 1
	}, 2*time.Second, 5*time.Millisecond, "only the buffered event survives")
}
