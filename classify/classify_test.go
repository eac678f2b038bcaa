package classify

import (
	"testing"

	"github.com/NVIDIA/mediaorch/task"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		hint Hint
		want task.MediaType
	}{
		{"explicit mime wins", Hint{MIMEType: "image/png", Filename: "clip.mp4"}, task.MediaImage},
		{"extension allow-list", Hint{Filename: "clip.MOV"}, task.MediaVideo},
		{"url path extension", Hint{Source: "https://cdn.example.com/a/b/photo.JPG?x=1"}, task.MediaImage},
		{"unknown falls back to default", Hint{Source: "https://cdn.example.com/a/b"}, task.MediaVideo},
		{"mime beats url path", Hint{MIMEType: "video/mp4", Source: "https://cdn.example.com/x.png"}, task.MediaVideo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.hint, task.MediaVideo); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyDefaultOnUnknownConfigurable(t *testing.T) {
	got := Classify(Hint{}, task.MediaImage)
	if got != task.MediaImage {
		t.Errorf("Classify() = %v, want %v", got, task.MediaImage)
	}
}

func TestFilterProfiles(t *testing.T) {
	profiles := []task.Profile{
		{ID: "p1", InputType: task.MediaVideo},
		{ID: "p2", InputType: task.MediaImage},
		{ID: "p3"}, // no input_type: always kept
	}
	res := FilterProfiles(profiles, task.MediaVideo)
	if len(res.Effective) != 2 || res.Effective[0].ID != "p1" || res.Effective[1].ID != "p3" {
		t.Fatalf("unexpected effective set: %+v", res.Effective)
	}
	if len(res.Dropped) != 1 || res.Dropped[0] != "p2" {
		t.Fatalf("unexpected dropped set: %+v", res.Dropped)
	}
}
