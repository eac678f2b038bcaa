package admission

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/NVIDIA/mediaorch/blob"
	"github.com/NVIDIA/mediaorch/bus"
	"github.com/NVIDIA/mediaorch/cmn"
	"github.com/NVIDIA/mediaorch/cmn/config"
	"github.com/NVIDIA/mediaorch/task"
	"github.com/NVIDIA/mediaorch/task/buntstore"
)

// fakeBus records every publish and never fails, except for topics listed
// in failTopics -- enough to exercise the "publish failure is recorded but
// does not roll back the task row" path (spec §4.5).
type fakeBus struct {
	published  []publishedMsg
	failTopics map[string]bool
}

type publishedMsg struct {
	topic string
	body  []byte
}

func (b *fakeBus) Publish(_ context.Context, topic string, envelope []byte) error {
	if b.failTopics[topic] {
		return cmn.NewErrBusPublishFailed("simulated failure", nil)
	}
	b.published = append(b.published, publishedMsg{topic, envelope})
	return nil
}
func (b *fakeBus) Subscribe(context.Context, string, bus.SubscribeOptions, bus.Handler) error {
	return nil
}
func (b *fakeBus) Close() error { return nil }

// fakeBlob is an in-memory blob.Store sufficient for upload-path tests.
type fakeBlob struct{ objects map[string][]byte }

func newFakeBlob() *fakeBlob { return &fakeBlob{objects: map[string][]byte{}} }

func (f *fakeBlob) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	f.objects[key] = data
	return "https://blob.example.com/" + key, nil
}
func (f *fakeBlob) Get(_ context.Context, key string) ([]byte, error) { return f.objects[key], nil }
func (f *fakeBlob) DeletePrefix(context.Context, string, int) (int, error) { return 0, nil }
func (f *fakeBlob) Exists(_ context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

func newTestController(t *testing.T, b *fakeBus) (*Controller, task.Store) {
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
	ctl := NewController(store, newFakeBlob(), b, cfg, blob.KeyLayout{Base: "media"})
	return ctl, store
}

func baseProfiles() []task.Profile {
	return []task.Profile{{ID: "p1", OutputType: task.OutputVideo}}
}

func TestSubmitRejectsWithoutProfiles(t *testing.T) {
	ctl, _ := newTestController(t, &fakeBus{})
	_, _, err := ctl.Submit(context.Background(), SubmitInput{
		Source:   "https://example.com/a.mp4",
		S3Layout: task.S3Layout{BasePath: "b", FolderStructure: "f"},
	})
	if !cmn.IsKind(err, cmn.KindBadRequest) {
		t.Fatalf("expected BadRequest, got %v", err)
	}
}

func TestSubmitRejectsWithoutSourceOrUpload(t *testing.T) {
	ctl, _ := newTestController(t, &fakeBus{})
	_, _, err := ctl.Submit(context.Background(), SubmitInput{
		Profiles: baseProfiles(),
		S3Layout: task.S3Layout{BasePath: "b", FolderStructure: "f"},
	})
	if !cmn.IsKind(err, cmn.KindBadRequest) {
		t.Fatalf("expected BadRequest, got %v", err)
	}
}

func TestSubmitHappyPathPublishesAndTransitions(t *testing.T) {
	b := &fakeBus{}
	ctl, store := newTestController(t, b)

	tsk, dropped, err := ctl.Submit(context.Background(), SubmitInput{
		Source:   "https://example.com/a.mp4",
		Profiles: baseProfiles(),
		S3Layout: task.S3Layout{BasePath: "out", FolderStructure: "{task_id}/{profile_id}"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(dropped) != 0 {
		t.Fatalf("expected no dropped profiles, got %v", dropped)
	}
	if tsk.Status != task.StatusProcessing {
		t.Fatalf("expected PROCESSING after fan-out, got %s", tsk.Status)
	}
	if len(b.published) != 1 || b.published[0].topic != bus.TopicTranscodeTasks {
		t.Fatalf("expected exactly one transcode.tasks publish, got %+v", b.published)
	}

	stored, err := store.Get(context.Background(), tsk.TaskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != task.StatusProcessing {
		t.Fatalf("expected persisted status PROCESSING, got %s", stored.Status)
	}
}

func TestSubmitRecordsPublishFailureWithoutRollback(t *testing.T) {
	b := &fakeBus{failTopics: map[string]bool{bus.TopicTranscodeTasks: true}}
	ctl, _ := newTestController(t, b)

	tsk, _, err := ctl.Submit(context.Background(), SubmitInput{
		Source:   "https://example.com/a.mp4",
		Profiles: baseProfiles(),
		S3Layout: task.S3Layout{BasePath: "out", FolderStructure: "{task_id}/{profile_id}"},
	})
	if err != nil {
		t.Fatalf("Submit should not fail when fan-out publish fails: %v", err)
	}
	if tsk.FailedProfiles["p1"] == "" {
		t.Fatalf("expected p1 recorded in failed_profiles, got %+v", tsk.FailedProfiles)
	}
}

func TestSubmitUploadPathStoresUnderTaskScopedKey(t *testing.T) {
	b := &fakeBus{}
	ctl, _ := newTestController(t, b)

	tsk, _, err := ctl.Submit(context.Background(), SubmitInput{
		UploadFilename: "clip.mp4",
		UploadBytes:    []byte("fake video bytes"),
		MIMEType:       "video/mp4",
		Profiles:       baseProfiles(),
		S3Layout:       task.S3Layout{BasePath: "out", FolderStructure: "{task_id}/{profile_id}"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if tsk.Source == "" {
		t.Fatal("expected source to be set to the uploaded object's URL")
	}
	if want := "https://blob.example.com/" + ctl.Keys.UploadKey(tsk.TaskID, "clip.mp4"); tsk.Source != want {
		t.Fatalf("expected source %q under the task-scoped upload key, got %q", want, tsk.Source)
	}
	var env struct {
		Source string `json:"source"`
	}
	if err := json.Unmarshal(b.published[0].body, &env); err != nil {
		t.Fatalf("unmarshal published envelope: %v", err)
	}
	if env.Source != tsk.Source {
		t.Fatalf("published envelope source %q != task source %q", env.Source, tsk.Source)
	}
}

var _ bus.Bus = (*fakeBus)(nil)
var _ blob.Store = (*fakeBlob)(nil)
