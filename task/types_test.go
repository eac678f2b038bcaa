package task

import "testing"

func TestOutstanding(t *testing.T) {
	tsk := &Task{
		EffectiveProfiles: []string{"p1", "p2", "p3"},
		Outputs:           map[string][]Artifact{"p1": {{URL: "s3://a"}}},
		FailedProfiles:    map[string]string{"p2": "bad input"},
	}
	got := tsk.Outstanding()
	if len(got) != 1 || got[0] != "p3" {
		t.Fatalf("Outstanding() = %v, want [p3]", got)
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusPartial, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		tsk := &Task{Status: tt.status}
		if got := tsk.IsTerminal(); got != tt.want {
			t.Errorf("IsTerminal() for %s = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	orig := &Task{
		TaskID:          "t1",
		Outputs:         map[string][]Artifact{"p1": {{URL: "s3://a"}}},
		FailedProfiles:  map[string]string{},
		ProfileAttempts: map[string]int{},
		ProfileByID:     map[string]Profile{},
		Callback:        &Callback{URL: "https://example.com/cb"},
	}
	clone := orig.Clone()
	clone.Outputs["p1"] = append(clone.Outputs["p1"], Artifact{URL: "s3://b"})
	clone.Callback.URL = "https://changed.example.com"

	if len(orig.Outputs["p1"]) != 1 {
		t.Fatalf("mutating clone.Outputs leaked into original: %v", orig.Outputs["p1"])
	}
	if orig.Callback.URL != "https://example.com/cb" {
		t.Fatalf("mutating clone.Callback leaked into original: %v", orig.Callback.URL)
	}
}
