package task

// MergeAction reports what a Store implementation actually did with an
// incoming ProfileResult/FaceResult, so the Result Aggregator (C6) knows
// which side effect, if any, it still owes: republishing a retry, or
// handing a freshly-terminal Task to the Notifier.
type MergeAction string

const (
	// MergeStale: profile_id (or the task itself) no longer exists in
	// effective_profiles / the store -- ack and drop.
	MergeStale MergeAction = "stale"
	// MergeDuplicate: (task_id, profile_id) already resolved -- ack and drop.
	MergeDuplicate MergeAction = "duplicate"
	// MergeRetryProfile: a retryable failure under the attempt bound; the
	// store bumped the attempt counter but recorded nothing else. The
	// caller must republish the original transcode.tasks envelope with the
	// incremented attempt.
	MergeRetryProfile MergeAction = "retry_profile"
	MergeRetryFace    MergeAction = "retry_face"
	// MergeApplied: the result was folded into outputs/failed_profiles (or
	// the face stage); Task.Status reflects any terminal transition that
	// followed.
	MergeApplied MergeAction = "applied"
)
