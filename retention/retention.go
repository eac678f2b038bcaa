// Package retention is the Retention / Retry Manager (C8): retry, delete and
// resend_callback (spec §4.8), all operating on rows the task.Store already
// owns and artifacts the blob.Store already owns.
package retention

import (
	"context"

	"github.com/NVIDIA/mediaorch/api"
	"github.com/NVIDIA/mediaorch/blob"
	"github.com/NVIDIA/mediaorch/bus"
	"github.com/NVIDIA/mediaorch/cmn"
	"github.com/NVIDIA/mediaorch/cmn/config"
	"github.com/NVIDIA/mediaorch/cmn/cos"
	"github.com/NVIDIA/mediaorch/cmn/nlog"
	"github.com/NVIDIA/mediaorch/notify"
	"github.com/NVIDIA/mediaorch/task"
)

type Manager struct {
	Store  task.Store
	Blob   blob.Store
	Bus    bus.Bus
	Notify *notify.Notifier
	Cfg    *config.Holder
	Keys   blob.KeyLayout
}

func New(store task.Store, blobStore blob.Store, b bus.Bus, notifier *notify.Notifier, cfg *config.Holder, keys blob.KeyLayout) *Manager {
	return &Manager{Store: store, Blob: blobStore, Bus: b, Notify: notifier, Cfg: cfg, Keys: keys}
}

// DeleteCounts reports how many blob keys were actually removed by Delete,
// per prefix (spec §4.8 "Returns the counts of blobs removed").
type DeleteCounts struct {
	Artifacts int `json:"artifacts_removed"`
	Faces     int `json:"faces_removed"`
}

// Retry implements §4.8 retry: refuses while PENDING/PROCESSING, optionally
// wipes the task's blob prefix, resets the row, and re-runs the fan-out step
// of admission (§4.5 step 5 onward) against the stored effective_profiles.
func (m *Manager) Retry(ctx context.Context, taskID string, wipeArtifacts bool) (*task.Task, error) {
	t, err := m.Store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status == task.StatusPending || t.Status == task.StatusProcessing {
		return nil, cmn.NewErrConflict("cannot retry task " + taskID + " while " + string(t.Status))
	}
	if wipeArtifacts {
		if _, err := m.Blob.DeletePrefix(ctx, m.Keys.TaskPrefix(taskID), m.Cfg.Get().Blob.BatchDeleteSize); err != nil {
			return nil, err
		}
	}
	reset, err := m.Store.ResetForRetry(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return m.refanout(ctx, reset)
}

// refanout replays admission's steps 5-7 against a task row that already
// has effective_profiles populated, instead of re-deriving them.
func (m *Manager) refanout(ctx context.Context, t *task.Task) (*task.Task, error) {
	failedAtPublish := map[string]string{}
	for _, pid := range t.EffectiveProfiles {
		env := api.TranscodeTaskEnvelope{
			TaskID: t.TaskID, ProfileID: pid, Source: t.Source,
			Profile: t.ProfileByID[pid], OutputLayout: t.S3Layout, Attempt: 0,
		}
		if err := m.Bus.Publish(ctx, bus.TopicTranscodeTasks, cos.MustMarshal(env)); err != nil {
			nlog.Warningf("task %s: retry publish for profile %s failed: %v", t.TaskID, pid, err)
			failedAtPublish[pid] = err.Error()
		}
	}
	faceStage := t.FaceDetection.Stage
	if faceStage == task.FacePending {
		env := api.FaceTaskEnvelope{
			TaskID: t.TaskID, Source: t.Source, Config: *t.FaceConfig,
			AvatarOutputLayout: t.S3Layout, Attempt: 0,
		}
		if err := m.Bus.Publish(ctx, bus.TopicFaceTasks, cos.MustMarshal(env)); err != nil {
			nlog.Warningf("task %s: retry publish of face task failed: %v", t.TaskID, err)
			faceStage = task.FaceFailed
		}
	}
	return m.Store.Transition(ctx, t.TaskID, task.StatusPending, task.StatusProcessing, func(t *task.Task) {
		for pid, reason := range failedAtPublish {
			t.FailedProfiles[pid] = reason
		}
		t.FaceDetection.Stage = faceStage
	})
}

// Delete implements §4.8 delete: removes the row and optionally the blob
// prefixes, returning how much was actually removed.
func (m *Manager) Delete(ctx context.Context, taskID string, wipeArtifacts, wipeFaces bool) (DeleteCounts, error) {
	var counts DeleteCounts
	batch := m.Cfg.Get().Blob.BatchDeleteSize
	if wipeArtifacts {
		n, err := m.Blob.DeletePrefix(ctx, m.Keys.TaskPrefix(taskID), batch)
		if err != nil {
			return counts, err
		}
		counts.Artifacts = n
	}
	if wipeFaces {
		n, err := m.Blob.DeletePrefix(ctx, m.Keys.FacePrefix(taskID), batch)
		if err != nil {
			return counts, err
		}
		counts.Faces = n
	}
	if err := m.Store.Delete(ctx, taskID); err != nil {
		return counts, err
	}
	return counts, nil
}

// ResendCallback implements §4.8 resend_callback: permitted only on a
// terminal task, and never mutates state.
func (m *Manager) ResendCallback(ctx context.Context, taskID string) error {
	t, err := m.Store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if !t.IsTerminal() {
		return cmn.NewErrConflict("task " + taskID + " is not terminal, cannot resend callback")
	}
	m.Notify.Deliver(ctx, t)
	return nil
}
