// Package admission is the Admission Controller (C5): validates a submission,
// uploads it if necessary, classifies and filters profiles, creates the task
// row and fans transcode/face work out over the bus (spec §4.5).
package admission

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NVIDIA/mediaorch/api"
	"github.com/NVIDIA/mediaorch/blob"
	"github.com/NVIDIA/mediaorch/bus"
	"github.com/NVIDIA/mediaorch/classify"
	"github.com/NVIDIA/mediaorch/cmn"
	"github.com/NVIDIA/mediaorch/cmn/config"
	"github.com/NVIDIA/mediaorch/cmn/cos"
	"github.com/NVIDIA/mediaorch/cmn/metrics"
	"github.com/NVIDIA/mediaorch/cmn/nlog"
	"github.com/NVIDIA/mediaorch/task"
)

// Controller wires C5's dependencies: the task store it creates rows in, the
// blob gateway it uploads through, the bus it fans transcode/face work out
// over, and the classifier it filters profiles with.
type Controller struct {
	Store   task.Store
	Blob    blob.Store
	Bus     bus.Bus
	Cfg     *config.Holder
	Keys    blob.KeyLayout
	httpCli *http.Client
}

func NewController(store task.Store, blobStore blob.Store, b bus.Bus, cfg *config.Holder, keys blob.KeyLayout) *Controller {
	return &Controller{
		Store: store, Blob: blobStore, Bus: b, Cfg: cfg, Keys: keys,
		httpCli: &http.Client{Timeout: 15 * time.Second},
	}
}

// SubmitInput is the backend-agnostic submission shape; both the HTTP
// handler and the bus listener build one of these and hand it to Submit.
type SubmitInput struct {
	Source              string // URL, or empty if Upload is set
	UploadFilename       string
	UploadBytes          []byte
	MIMEType             string
	Profiles             []task.Profile
	S3Layout             task.S3Layout
	FaceConfig           *task.FaceDetectionConfig
	Callback             *task.Callback
	NotifyTopic          string
}

// Submit implements the spec §4.5 algorithm end to end.
func (c *Controller) Submit(ctx context.Context, in SubmitInput) (*task.Task, []string, error) {
	// Step 1: validate.
	if len(in.Profiles) == 0 {
		return nil, nil, cmn.NewErrBadRequest("at least one profile is required")
	}
	if in.Source == "" && len(in.UploadBytes) == 0 {
		return nil, nil, cmn.NewErrBadRequest("source must be a reachable URL or a non-empty upload")
	}
	if in.S3Layout.BasePath == "" || in.S3Layout.FolderStructure == "" {
		return nil, nil, cmn.NewErrBadRequest("s3_output_config must set base_path and folder_structure")
	}
	if in.Source != "" {
		if u, err := url.Parse(in.Source); err != nil || u.Scheme == "" || u.Host == "" {
			return nil, nil, cmn.NewErrBadRequest("source is not a well-formed URL")
		}
	}

	taskID := cos.GenUUID()
	source := in.Source

	// Step 2: upload if necessary.
	if len(in.UploadBytes) > 0 {
		key := c.Keys.UploadKey(taskID, in.UploadFilename)
		uploadURL, err := c.Blob.Put(ctx, key, in.UploadBytes, in.MIMEType)
		if err != nil {
			return nil, nil, err
		}
		source = uploadURL
	}

	// Step 3: classify and filter.
	hint := classify.Hint{MIMEType: in.MIMEType, Filename: in.UploadFilename, Source: source}
	effectiveType := classify.Classify(hint, task.MediaType(c.Cfg.Get().MediaClassifier.DefaultOnUnknown))
	filtered := classify.FilterProfiles(in.Profiles, effectiveType)
	if len(filtered.Effective) == 0 {
		return nil, nil, cmn.NewErrNoApplicableProfiles(
			fmt.Sprintf("no profile accepts detected media type %q", effectiveType))
	}

	// Step 4: build and create the task row.
	now := cos.Clock()
	t := &task.Task{
		TaskID:            taskID,
		Status:            task.StatusPending,
		Source:            source,
		SubmittedProfiles: in.Profiles,
		ProfileByID:       make(map[string]task.Profile, len(filtered.Effective)),
		DroppedProfiles:   filtered.Dropped,
		Outputs:           make(map[string][]task.Artifact),
		FailedProfiles:    make(map[string]string),
		ProfileAttempts:   make(map[string]int),
		DetectedMediaType: effectiveType,
		S3Layout:          in.S3Layout,
		FaceConfig:        in.FaceConfig,
		Callback:          in.Callback,
		NotifyTopic:       in.NotifyTopic,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, p := range filtered.Effective {
		t.EffectiveProfiles = append(t.EffectiveProfiles, p.ID)
		t.ProfileByID[p.ID] = p
	}
	if in.FaceConfig != nil && in.FaceConfig.Enabled {
		t.FaceDetection.Stage = task.FacePending
	} else {
		t.FaceDetection.Stage = task.FaceDisabled
	}
	if err := c.Store.Create(ctx, t); err != nil {
		return nil, nil, err
	}

	// Steps 5-6: fan out, tracking immediate publish failures.
	published := make([]string, 0, len(t.EffectiveProfiles))
	failedAtPublish := map[string]string{}
	for _, pid := range t.EffectiveProfiles {
		env := api.TranscodeTaskEnvelope{
			TaskID: taskID, ProfileID: pid, Source: source,
			Profile: t.ProfileByID[pid], OutputLayout: in.S3Layout, Attempt: 0,
		}
		if err := c.Bus.Publish(ctx, bus.TopicTranscodeTasks, cos.MustMarshal(env)); err != nil {
			nlog.Warningf("task %s: publish transcode.tasks for profile %s failed: %v", taskID, pid, err)
			failedAtPublish[pid] = err.Error()
			continue
		}
		published = append(published, pid)
	}

	faceStage := t.FaceDetection.Stage
	if t.FaceDetection.Stage == task.FacePending {
		env := api.FaceTaskEnvelope{
			TaskID: taskID, Source: source, Config: *in.FaceConfig,
			AvatarOutputLayout: in.S3Layout, Attempt: 0,
		}
		if err := c.Bus.Publish(ctx, bus.TopicFaceTasks, cos.MustMarshal(env)); err != nil {
			nlog.Warningf("task %s: publish face.tasks failed: %v", taskID, err)
			faceStage = task.FaceFailed
		}
	}

	// Step 7: transition PENDING -> PROCESSING, persisting publish outcomes.
	final, err := c.Store.Transition(ctx, taskID, task.StatusPending, task.StatusProcessing, func(t *task.Task) {
		for pid, reason := range failedAtPublish {
			t.FailedProfiles[pid] = reason
		}
		t.FaceDetection.Stage = faceStage
	})
	if err != nil {
		return nil, nil, err
	}
	metrics.TasksSubmitted.WithLabelValues(string(effectiveType)).Inc()
	return final, filtered.Dropped, nil
}

// sourceIsURL reports whether s parses as an absolute URL, used by the bus
// listener to distinguish URL-only submissions from malformed ones.
func sourceIsURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	return err == nil && u.Scheme != "" && u.Host != ""
}
