// Package blob is the Blob Store Gateway (C1): a uniform upload/download/
// delete facade over an S3-like backend, with deterministic key derivation
// (spec §4.1).
package blob

import (
	"context"
	"path"
	"strings"
)

// Store is the gateway contract. Implementations must translate backend
// errors into cmn.KindBlobUnreachable (transient, retry at call site),
// cmn.KindNotFound, or leave permission errors as opaque causes -- the
// spec treats PermissionDenied as fatal-for-that-call, not retryable.
type Store interface {
	// Put uploads bytes under key, returning the durable URL a Task row can
	// reference. contentType must not be used to set protocol-reserved
	// attributes (no range-control headers on PUT, per spec §4.1).
	Put(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	Get(ctx context.Context, key string) ([]byte, error)
	// DeletePrefix bulk-deletes every key under prefix in batches of at
	// most batchSize, idempotently, returning the count actually removed.
	DeletePrefix(ctx context.Context, prefix string, batchSize int) (count int, err error)
	Exists(ctx context.Context, key string) (bool, error)
}

// KeyLayout derives the deterministic `{base}/{task_id}/{profile_id}/{filename}`
// key layout named in spec §4.1, plus the task-scoped upload key used by
// admission (profile_id == "upload" for the raw upload) and the retention
// manager's wipe operations.
type KeyLayout struct {
	Base string
}

func (l KeyLayout) UploadKey(taskID, filename string) string {
	return l.ProfileKey(taskID, "upload", filename)
}

func (l KeyLayout) ProfileKey(taskID, profileID, filename string) string {
	return path.Join(l.Base, taskID, profileID, filename)
}

func (l KeyLayout) TaskPrefix(taskID string) string {
	return strings.TrimSuffix(path.Join(l.Base, taskID), "/") + "/"
}

func (l KeyLayout) FacePrefix(taskID string) string {
	return l.TaskPrefix(taskID) + "faces/"
}
