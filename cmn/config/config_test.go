package config

import "testing"

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() should validate, got %v", err)
	}
}

func TestValidateRejectsBadDefaultOnUnknown(t *testing.T) {
	c := Default()
	c.MediaClassifier.DefaultOnUnknown = "audio"
	if err := c.Validate(); err == nil {
		t.Fatal("expected Validate to reject an unrecognized default_on_unknown")
	}
}

func TestValidateRejectsOutOfRangeBatchDeleteSize(t *testing.T) {
	tests := []int{0, -1, 1001}
	for _, size := range tests {
		c := Default()
		c.Blob.BatchDeleteSize = size
		if err := c.Validate(); err == nil {
			t.Fatalf("expected Validate to reject batch_delete_size=%d", size)
		}
	}
}

func TestValidateRejectsZeroCallbackAttempts(t *testing.T) {
	c := Default()
	c.Callback.MaxAttempts = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected Validate to reject callback.max_attempts=0")
	}
}

func TestReadFileMissingFallsBackToDefault(t *testing.T) {
	c, err := readFile("/nonexistent/path/mediaorch.json")
	if err != nil {
		t.Fatalf("readFile on a missing file should fall back to defaults, got %v", err)
	}
	if c.HTTPAddr != Default().HTTPAddr {
		t.Fatalf("expected default HTTPAddr, got %q", c.HTTPAddr)
	}
}
