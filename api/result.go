package api

import "github.com/NVIDIA/mediaorch/task"

// FailedProfile pairs a profile_id with its recorded reason, for the
// canonical result envelope's failed_profiles block (spec §6.1 `GET
// /task/{id}`, §4.7 step 1).
type FailedProfile struct {
	ProfileID string `json:"profile_id"`
	Reason    string `json:"reason"`
}

// FaceDetectionResult mirrors task.FaceDetection for the wire.
type FaceDetectionResult struct {
	Stage  string      `json:"stage"`
	Faces  []task.Face `json:"faces,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

// TaskResult is the canonical result envelope: what `GET /task/{id}`
// returns, what C7 publishes to notify_topic, and what it POSTs as the
// callback body (spec §4.7 step 1, §6.2 "Notification envelope").
type TaskResult struct {
	TaskID             string                  `json:"task_id"`
	Status             string                  `json:"status"`
	Source             string                  `json:"source"`
	DetectedMediaType  string                  `json:"detected_media_type"`
	EffectiveProfiles  []string                `json:"effective_profiles"`
	DroppedProfiles    []string                `json:"dropped_profiles,omitempty"`
	Outputs            map[string][]task.Artifact `json:"outputs"`
	FailedProfiles     []FailedProfile         `json:"failed_profiles,omitempty"`
	FaceDetection      FaceDetectionResult     `json:"face_detection"`
	CreatedAt          string                  `json:"created_at"`
	UpdatedAt          string                  `json:"updated_at"`
	Error              string                  `json:"error,omitempty"`
}

// BuildTaskResult is the single place that turns a task.Task into the
// wire-facing result shape, used identically by the HTTP GET handler, the
// bus notification publish and the callback POST body (spec §4.7: "Build a
// canonical result envelope from the Task row").
func BuildTaskResult(t *task.Task) TaskResult {
	r := TaskResult{
		TaskID:            t.TaskID,
		Status:            string(t.Status),
		Source:            t.Source,
		DetectedMediaType: string(t.DetectedMediaType),
		EffectiveProfiles: t.EffectiveProfiles,
		DroppedProfiles:   t.DroppedProfiles,
		Outputs:           t.Outputs,
		FaceDetection: FaceDetectionResult{
			Stage:  string(t.FaceDetection.Stage),
			Faces:  t.FaceDetection.Faces,
			Reason: t.FaceDetection.Reason,
		},
		CreatedAt: t.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		UpdatedAt: t.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		Error:     t.Error,
	}
	for pid, reason := range t.FailedProfiles {
		r.FailedProfiles = append(r.FailedProfiles, FailedProfile{ProfileID: pid, Reason: reason})
	}
	return r
}
