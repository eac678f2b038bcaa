package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/NVIDIA/mediaorch/api"
	"github.com/NVIDIA/mediaorch/bus"
	"github.com/NVIDIA/mediaorch/cmn/config"
	"github.com/NVIDIA/mediaorch/cmn/cos"
	"github.com/NVIDIA/mediaorch/notify"
	"github.com/NVIDIA/mediaorch/task"
	"github.com/NVIDIA/mediaorch/task/buntstore"
)

type recordingMsg struct {
	body    []byte
	acked   bool
	nacked  bool
	requeue bool
}

func (m *recordingMsg) toMessage() bus.Message {
	return bus.Message{
		Body: m.body,
		Ack:  func() { m.acked = true },
		Nack: func(requeue bool) { m.nacked = true; m.requeue = requeue },
	}
}

func newTestAggregator(t *testing.T) (*Aggregator, task.Store, bus.Bus) {
	t.Helper()
	store, err := buntstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	cfg, err := config.Load("/nonexistent/mediaorch.json")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	b := bus.NewInmemBus()
	notifier := notify.New(b, cfg)
	return New(store, b, notifier, cfg), store, b
}

func seedTask(t *testing.T, store task.Store, id string, profiles ...string) {
	t.Helper()
	now := cos.Clock()
	tsk := &task.Task{
		TaskID: id, Status: task.StatusProcessing, Source: "https://example.com/a.mp4",
		EffectiveProfiles: profiles,
		ProfileByID:       map[string]task.Profile{},
		Outputs:           map[string][]task.Artifact{},
		FailedProfiles:    map[string]string{},
		ProfileAttempts:   map[string]int{},
		FaceDetection:     task.FaceDetection{Stage: task.FaceDisabled},
		CreatedAt:         now, UpdatedAt: now,
	}
	for _, p := range profiles {
		tsk.ProfileByID[p] = task.Profile{ID: p, OutputType: task.OutputVideo}
	}
	if err := store.Create(context.Background(), tsk); err != nil {
		t.Fatalf("seed task: %v", err)
	}
}

func TestHandleProfileResultAcksSuccess(t *testing.T) {
	agg, store, _ := newTestAggregator(t)
	seedTask(t, store, "t1", "p1")

	env := api.TranscodeResultEnvelope{TaskID: "t1", ProfileID: "p1", Outcome: "ok", Artifact: &task.Artifact{URL: "s3://a"}}
	msg := &recordingMsg{body: cos.MustMarshal(env)}
	if err := agg.handleProfileResult(context.Background(), msg.toMessage()); err != nil {
		t.Fatalf("handleProfileResult: %v", err)
	}
	if !msg.acked {
		t.Fatal("expected message to be acked")
	}

	got, err := store.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != task.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}
}

func TestHandleProfileResultRepublishesRetry(t *testing.T) {
	agg, store, b := newTestAggregator(t)
	seedTask(t, store, "t2", "p1")

	env := api.TranscodeResultEnvelope{TaskID: "t2", ProfileID: "p1", Outcome: "err", Reason: "timeout", Retryable: true}
	msg := &recordingMsg{body: cos.MustMarshal(env)}
	if err := agg.handleProfileResult(context.Background(), msg.toMessage()); err != nil {
		t.Fatalf("handleProfileResult: %v", err)
	}
	if !msg.acked {
		t.Fatal("expected message to be acked even on retry (the retry is a new message, not a redelivery)")
	}

	received := make(chan bus.Message, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Subscribe(ctx, bus.TopicTranscodeTasks, bus.SubscribeOptions{Subscription: "test", Inflight: 1}, func(_ context.Context, m bus.Message) error {
		received <- m
		return nil
	})
	defer cancel()

	select {
	case m := <-received:
		m.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("expected a republished transcode.tasks envelope")
	}
}

func TestHandleProfileResultDropsStaleProfile(t *testing.T) {
	agg, store, _ := newTestAggregator(t)
	seedTask(t, store, "t3", "p1")

	env := api.TranscodeResultEnvelope{TaskID: "t3", ProfileID: "ghost", Outcome: "ok", Artifact: &task.Artifact{URL: "s3://a"}}
	msg := &recordingMsg{body: cos.MustMarshal(env)}
	if err := agg.handleProfileResult(context.Background(), msg.toMessage()); err != nil {
		t.Fatalf("handleProfileResult: %v", err)
	}
	if !msg.acked {
		t.Fatal("expected stale result to be acked, not nacked")
	}
}

