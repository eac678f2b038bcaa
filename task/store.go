package task

import "context"

// ProfileOutcome distinguishes a successful transcode from a failed one
// within a single ProfileResult (spec §4.6).
type ProfileOutcome string

const (
	ProfileOK  ProfileOutcome = "ok"
	ProfileErr ProfileOutcome = "err"
)

// ProfileResult is one asynchronous transcode-worker reply, consumed by the
// Result Aggregator (C6) and folded into a Task via Store.ApplyPartial.
type ProfileResult struct {
	TaskID    string
	ProfileID string
	Outcome   ProfileOutcome
	Artifact  *Artifact // set iff Outcome == ProfileOK
	Reason    string    // set iff Outcome == ProfileErr
	Retryable bool
}

// FaceOutcome mirrors ProfileOutcome for the face-detection stage.
type FaceOutcome string

const (
	FaceOK  FaceOutcome = "ok"
	FaceErr FaceOutcome = "err"
)

type FaceResult struct {
	TaskID     string
	Outcome    FaceOutcome
	Faces      []Face
	AvatarURLs []string
	Reason     string
	Retryable  bool
}

// ListFilter narrows Store.List by status; zero value selects every task.
type ListFilter struct {
	Status Status
	Sort   string // "created_at" | "updated_at", default "updated_at"
}

type Summary map[Status]int

// Store is the exclusive owner of task rows (spec §4.2). Every mutating
// method executes inside a single transaction; readers observe a
// consistent snapshot. Implementations MUST return *cmn.Error with the
// matching Kind (NotFound, StorageConflict, Conflict) so callers can branch
// on it without type-asserting a concrete store.
type Store interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, taskID string) (*Task, error)
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Task, int, error)
	Summary(ctx context.Context) (Summary, error)

	// ApplyPartial folds one ProfileResult into the task row and evaluates
	// the terminal predicate inside a single transaction (spec §4.6 steps
	// 1-5), returning the resulting Task and the MergeAction the caller
	// must still act on (republish a retry, or hand a terminal Task to the
	// Notifier). maxRetries bounds the per-profile retry counter.
	ApplyPartial(ctx context.Context, r ProfileResult, maxRetries int) (*Task, MergeAction, error)

	// ApplyFaceResult mirrors ApplyPartial for the face-detection stage.
	ApplyFaceResult(ctx context.Context, r FaceResult, maxRetries int) (*Task, MergeAction, error)

	// Transition performs a guarded compare-and-swap: it fails with
	// KindStorageConflict if the row's current status != old.
	Transition(ctx context.Context, taskID string, old, new Status, fields func(*Task)) (*Task, error)

	// ResetForRetry clears outputs/failed_profiles/face_detection/error and
	// sets status = PENDING, keeping effective_profiles intact.
	ResetForRetry(ctx context.Context, taskID string) (*Task, error)

	Delete(ctx context.Context, taskID string) error

	// RecordDeadLetter persists the supplemented dead-letter record (spec
	// addendum, SPEC_FULL §5) for a message that exhausted redelivery.
	RecordDeadLetter(ctx context.Context, dl DeadLetter) error

	Close() error
}

// DeadLetter is the concrete shape given to spec §4.6's "move to a
// dead-letter" instruction.
type DeadLetter struct {
	TaskID    string    `json:"task_id"`
	Stage     string    `json:"stage"` // "profile:<id>" | "face"
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	Timestamp string    `json:"timestamp"`
}
