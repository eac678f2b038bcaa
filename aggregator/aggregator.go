// Package aggregator is the Result Aggregator (C6) -- the core algorithm
// (spec §4.6): it subscribes to transcode.results and face.results, folds
// each message into the owning Task under a per-task_id critical section,
// republishes retries, and hands newly-terminal tasks to the Notifier.
package aggregator

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/NVIDIA/mediaorch/api"
	"github.com/NVIDIA/mediaorch/bus"
	"github.com/NVIDIA/mediaorch/cmn"
	"github.com/NVIDIA/mediaorch/cmn/config"
	"github.com/NVIDIA/mediaorch/cmn/cos"
	"github.com/NVIDIA/mediaorch/cmn/metrics"
	"github.com/NVIDIA/mediaorch/cmn/nlog"
	"github.com/NVIDIA/mediaorch/notify"
	"github.com/NVIDIA/mediaorch/task"
)

// Aggregator owns no state of its own beyond the per-task_id stripe lock and
// a consecutive-failure tally used for dead-lettering; the Task row is the
// only durable state (spec §5: "no in-process shared memory passed across
// task boundaries").
type Aggregator struct {
	Store  task.Store
	Bus    bus.Bus
	Notify *notify.Notifier
	Cfg    *config.Holder
	lock   *stripedLock

	failMu   sync.Mutex
	failures map[string]int // "task_id:stage" -> consecutive unexpected-exception count
}

func New(store task.Store, b bus.Bus, notifier *notify.Notifier, cfg *config.Holder) *Aggregator {
	return &Aggregator{
		Store: store, Bus: b, Notify: notifier, Cfg: cfg,
		lock:     newStripedLock(cfg.Get().Aggregator.Stripes),
		failures: map[string]int{},
	}
}

// RunProfileResults subscribes to transcode.results until ctx is cancelled.
func (a *Aggregator) RunProfileResults(ctx context.Context, inflight int) error {
	return a.Bus.Subscribe(ctx, bus.TopicTranscodeResults, bus.SubscribeOptions{Subscription: "aggregator", Inflight: inflight}, a.handleProfileResult)
}

// RunFaceResults subscribes to face.results until ctx is cancelled.
func (a *Aggregator) RunFaceResults(ctx context.Context, inflight int) error {
	return a.Bus.Subscribe(ctx, bus.TopicFaceResults, bus.SubscribeOptions{Subscription: "aggregator", Inflight: inflight}, a.handleFaceResult)
}

func (a *Aggregator) handleProfileResult(ctx context.Context, msg bus.Message) error {
	var env api.TranscodeResultEnvelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		nlog.Errorf("transcode.results: malformed envelope, dropping: %v", err)
		msg.Ack()
		return nil
	}
	failKey := env.TaskID + ":profile:" + env.ProfileID

	var (
		outcomeErr error
		action     task.MergeAction
		updated    *task.Task
	)
	a.lock.with(env.TaskID, func() {
		maxRetries := a.Cfg.Get().Aggregator.RetryMaxPerProfile
		updated, action, outcomeErr = a.Store.ApplyPartial(ctx, env.ToProfileResult(), maxRetries)
	})

	if outcomeErr != nil {
		a.onUnexpectedFailure(ctx, env.TaskID, "profile:"+env.ProfileID, outcomeErr, msg)
		return nil
	}
	a.resetFailures(failKey)

	metrics.MergeActions.WithLabelValues(string(action), "profile").Inc()
	switch action {
	case task.MergeStale, task.MergeDuplicate:
		msg.Ack()
	case task.MergeRetryProfile:
		a.republishProfile(ctx, env, updated)
		msg.Ack()
	case task.MergeApplied:
		a.onMerged(ctx, updated)
		msg.Ack()
	default:
		nlog.Errorf("transcode.results: task %s: unrecognized outcome %q, dropping", env.TaskID, env.Outcome)
		msg.Ack()
	}
	return nil
}

func (a *Aggregator) handleFaceResult(ctx context.Context, msg bus.Message) error {
	var env api.FaceResultEnvelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		nlog.Errorf("face.results: malformed envelope, dropping: %v", err)
		msg.Ack()
		return nil
	}
	failKey := env.TaskID + ":face"

	var (
		outcomeErr error
		action     task.MergeAction
		updated    *task.Task
	)
	a.lock.with(env.TaskID, func() {
		maxRetries := a.Cfg.Get().Aggregator.RetryMaxPerProfile
		updated, action, outcomeErr = a.Store.ApplyFaceResult(ctx, env.ToFaceResult(), maxRetries)
	})

	if outcomeErr != nil {
		a.onUnexpectedFailure(ctx, env.TaskID, "face", outcomeErr, msg)
		return nil
	}
	a.resetFailures(failKey)

	metrics.MergeActions.WithLabelValues(string(action), "face").Inc()
	switch action {
	case task.MergeStale, task.MergeDuplicate:
		msg.Ack()
	case task.MergeRetryFace:
		a.republishFace(ctx, env, updated)
		msg.Ack()
	case task.MergeApplied:
		a.onMerged(ctx, updated)
		msg.Ack()
	default:
		nlog.Errorf("face.results: task %s: unrecognized outcome %q, dropping", env.TaskID, env.Outcome)
		msg.Ack()
	}
	return nil
}

// onMerged runs the notifier hand-off step (spec §4.6 step 6) when the
// result just applied pushed the task into a terminal state.
func (a *Aggregator) onMerged(ctx context.Context, t *task.Task) {
	if t != nil && t.IsTerminal() {
		nlog.Infof("task %s terminal: status=%s effective_profiles=%d failed_profiles=%d",
			t.TaskID, t.Status, len(t.EffectiveProfiles), len(t.FailedProfiles))
		metrics.TasksTerminal.WithLabelValues(string(t.Status)).Inc()
		a.Notify.Deliver(ctx, t)
	}
}

func (a *Aggregator) republishProfile(ctx context.Context, env api.TranscodeResultEnvelope, t *task.Task) {
	profile, ok := t.ProfileByID[env.ProfileID]
	if !ok {
		nlog.Warningf("task %s: profile %s missing from ProfileByID on retry, dropping", env.TaskID, env.ProfileID)
		return
	}
	retryEnv := api.TranscodeTaskEnvelope{
		TaskID: env.TaskID, ProfileID: env.ProfileID, Source: t.Source,
		Profile: profile, OutputLayout: t.S3Layout, Attempt: t.ProfileAttempts[env.ProfileID],
	}
	if err := a.Bus.Publish(ctx, bus.TopicTranscodeTasks, cos.MustMarshal(retryEnv)); err != nil {
		nlog.Errorf("task %s: republish of profile %s failed: %v", env.TaskID, env.ProfileID, err)
	}
}

func (a *Aggregator) republishFace(ctx context.Context, env api.FaceResultEnvelope, t *task.Task) {
	if t.FaceConfig == nil {
		nlog.Warningf("task %s: face retry with no face_config, dropping", env.TaskID)
		return
	}
	retryEnv := api.FaceTaskEnvelope{
		TaskID: env.TaskID, Source: t.Source, Config: *t.FaceConfig,
		AvatarOutputLayout: t.S3Layout, Attempt: t.FaceDetection.Attempt,
	}
	if err := a.Bus.Publish(ctx, bus.TopicFaceTasks, cos.MustMarshal(retryEnv)); err != nil {
		nlog.Errorf("task %s: republish of face task failed: %v", env.TaskID, err)
	}
}

// onUnexpectedFailure implements spec §4.6's failure semantics: any C2
// transactional failure nacks for redelivery; after a bounded number of
// consecutive failures on the same (task_id, stage) the message is
// dead-lettered and the task is forced to FAILED with the captured reason.
func (a *Aggregator) onUnexpectedFailure(ctx context.Context, taskID, stage string, err error, msg bus.Message) {
	key := taskID + ":" + stage
	max := a.Cfg.Get().Aggregator.DeadLetterMaxConsecutive

	a.failMu.Lock()
	a.failures[key]++
	count := a.failures[key]
	a.failMu.Unlock()

	if cmn.IsKind(err, cmn.KindNotFound) {
		nlog.Warningf("task %s: %s result for a missing task, acking: %v", taskID, stage, err)
		msg.Ack()
		return
	}

	if count < max {
		nlog.Errorf("task %s: %s merge failed (attempt %d/%d), nacking: %v", taskID, stage, count, max, err)
		msg.Nack(true)
		return
	}

	nlog.Errorf("task %s: %s merge failed %d times consecutively, dead-lettering: %v", taskID, stage, count, err)
	metrics.DeadLetters.WithLabelValues(stage).Inc()
	dl := task.DeadLetter{
		TaskID: taskID, Stage: stage, Reason: err.Error(), Attempts: count,
		Timestamp: cos.Clock().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if dlErr := a.Store.RecordDeadLetter(ctx, dl); dlErr != nil {
		nlog.Errorf("task %s: failed to record dead letter: %v", taskID, dlErr)
	}
	a.forceFailed(ctx, taskID, err.Error())
	a.resetFailures(key)
	msg.Ack()
}

// forceFailed best-efforts the task into FAILED from whatever status it is
// currently in, since the usual guarded Transition (old -> new) cannot
// express "from any non-terminal status".
func (a *Aggregator) forceFailed(ctx context.Context, taskID, reason string) {
	t, err := a.Store.Get(ctx, taskID)
	if err != nil {
		nlog.Errorf("task %s: cannot load for forced-failed transition: %v", taskID, err)
		return
	}
	if t.IsTerminal() {
		return
	}
	updated, err := a.Store.Transition(ctx, taskID, t.Status, task.StatusFailed, func(t *task.Task) {
		t.Error = reason
	})
	if err != nil {
		nlog.Errorf("task %s: forced-failed transition lost a race, leaving as-is: %v", taskID, err)
		return
	}
	metrics.TasksTerminal.WithLabelValues(string(updated.Status)).Inc()
	a.Notify.Deliver(ctx, updated)
}

func (a *Aggregator) resetFailures(key string) {
	a.failMu.Lock()
	delete(a.failures, key)
	a.failMu.Unlock()
}
