// Package api defines the wire types shared between the HTTP surface, the
// bus envelopes and the worker contracts (spec §6.2): the thin, mechanical
// layer the spec explicitly keeps out of the core's scope, reproduced here
// only as the shapes C5/C6/C7 encode and decode.
package api

import "github.com/NVIDIA/mediaorch/task"

// TranscodeTaskEnvelope is published to bus.TopicTranscodeTasks by C5 (fan-out)
// and republished by C6 on a retryable failure, with Attempt incremented.
type TranscodeTaskEnvelope struct {
	TaskID       string         `json:"task_id"`
	ProfileID    string         `json:"profile_id"`
	Source       string         `json:"source"`
	Profile      task.Profile   `json:"profile"`
	OutputLayout task.S3Layout  `json:"output_layout"`
	Attempt      int            `json:"attempt"`
}

// TranscodeResultEnvelope is what a transcode worker publishes to
// bus.TopicTranscodeResults.
type TranscodeResultEnvelope struct {
	TaskID    string         `json:"task_id"`
	ProfileID string         `json:"profile_id"`
	Outcome   string         `json:"outcome"` // "ok" | "err"
	Artifact  *task.Artifact `json:"artifact,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

func (e TranscodeResultEnvelope) ToProfileResult() task.ProfileResult {
	return task.ProfileResult{
		TaskID:    e.TaskID,
		ProfileID: e.ProfileID,
		Outcome:   task.ProfileOutcome(e.Outcome),
		Artifact:  e.Artifact,
		Reason:    e.Reason,
		Retryable: e.Retryable,
	}
}

// FaceTaskEnvelope is published to bus.TopicFaceTasks.
type FaceTaskEnvelope struct {
	TaskID             string                    `json:"task_id"`
	Source             string                    `json:"source"`
	Config             task.FaceDetectionConfig  `json:"config"`
	AvatarOutputLayout task.S3Layout             `json:"avatar_output_layout"`
	Attempt            int                       `json:"attempt"`
}

// FaceResultEnvelope is what the face-detection worker publishes to
// bus.TopicFaceResults.
type FaceResultEnvelope struct {
	TaskID     string      `json:"task_id"`
	Outcome    string      `json:"outcome"`
	Faces      []task.Face `json:"faces,omitempty"`
	AvatarURLs []string    `json:"avatar_urls,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Retryable  bool        `json:"retryable,omitempty"`
}

func (e FaceResultEnvelope) ToFaceResult() task.FaceResult {
	return task.FaceResult{
		TaskID:     e.TaskID,
		Outcome:    task.FaceOutcome(e.Outcome),
		Faces:      e.Faces,
		AvatarURLs: e.AvatarURLs,
		Reason:     e.Reason,
		Retryable:  e.Retryable,
	}
}
