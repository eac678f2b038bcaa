package blob

import "testing"

func TestKeyLayout(t *testing.T) {
	l := KeyLayout{Base: "media"}

	if got, want := l.ProfileKey("t1", "p1", "out.mp4"), "media/t1/p1/out.mp4"; got != want {
		t.Errorf("ProfileKey() = %q, want %q", got, want)
	}
	if got, want := l.UploadKey("t1", "in.mov"), "media/t1/upload/in.mov"; got != want {
		t.Errorf("UploadKey() = %q, want %q", got, want)
	}
	if got, want := l.TaskPrefix("t1"), "media/t1/"; got != want {
		t.Errorf("TaskPrefix() = %q, want %q", got, want)
	}
	if got, want := l.FacePrefix("t1"), "media/t1/faces/"; got != want {
		t.Errorf("FacePrefix() = %q, want %q", got, want)
	}
}

func TestKeyLayoutEmptyBase(t *testing.T) {
	l := KeyLayout{}
	if got, want := l.ProfileKey("t1", "p1", "out.mp4"), "t1/p1/out.mp4"; got != want {
		t.Errorf("ProfileKey() with empty base = %q, want %q", got, want)
	}
}
