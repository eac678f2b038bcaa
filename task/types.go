// Package task defines the Task record (spec §3) and the Store contract
// (spec §4.2) that exclusively owns it.
package task

import "time"

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusPartial    Status = "PARTIAL"
	StatusFailed     Status = "FAILED"
)

type FaceStage string

const (
	FaceDisabled  FaceStage = "DISABLED"
	FacePending   FaceStage = "PENDING"
	FaceCompleted FaceStage = "COMPLETED"
	FaceFailed    FaceStage = "FAILED"
)

type OutputType string

const (
	OutputVideo OutputType = "video"
	OutputImage OutputType = "image"
	OutputGIF   OutputType = "gif"
	OutputWebP  OutputType = "webp"
)

type MediaType string

const (
	MediaImage   MediaType = "image"
	MediaVideo   MediaType = "video"
	MediaUnknown MediaType = "unknown"
)

// VideoConfig, ImageConfig, GIFConfig and WebPConfig are the closed,
// per-variant parameter sets named in spec §9 ("tagged variants per
// output_type with a closed field set per variant"). Unknown JSON fields on
// the wire are rejected by the admission decoder (api.DecodeProfiles), not
// here -- these structs are the target of that strict decode.
type VideoConfig struct {
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Bitrate    int    `json:"bitrate_kbps,omitempty"`
	Codec      string `json:"codec,omitempty"`
	MaxFPS     int    `json:"max_fps,omitempty"`
}

type ImageConfig struct {
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Format  string `json:"format,omitempty"`
	Quality int    `json:"quality,omitempty"`
}

type GIFConfig struct {
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	FPS      int     `json:"fps,omitempty"`
	MaxSecs  float64 `json:"max_secs,omitempty"`
}

type WebPConfig struct {
	Width   int  `json:"width,omitempty"`
	Height  int  `json:"height,omitempty"`
	FPS     int  `json:"fps,omitempty"`
	Lossy   bool `json:"lossy,omitempty"`
	Quality int  `json:"quality,omitempty"`
}

// Profile is a declarative description of one desired output variant, as
// submitted by the client (spec §6.1 `profiles`).
type Profile struct {
	ID          string       `json:"id_profile"`
	OutputType  OutputType   `json:"output_type"`
	InputType   MediaType    `json:"input_type,omitempty"`
	VideoConfig *VideoConfig `json:"video_config,omitempty"`
	ImageConfig *ImageConfig `json:"image_config,omitempty"`
	GIFConfig   *GIFConfig   `json:"gif_config,omitempty"`
	WebPConfig  *WebPConfig  `json:"webp_config,omitempty"`
}

// S3Layout carries the `{base_path}/{folder_structure}` placeholders used
// to derive output keys. It is passed to the workers unchanged as the
// envelopes' output layout; nothing in this module substitutes `{task_id}`
// or `{profile_id}` (blob.KeyLayout derives its keys from its own Base).
type S3Layout struct {
	BasePath        string `json:"base_path"`
	FolderStructure string `json:"folder_structure"`
}

// Metadata is one flat record shared by the four output kinds; fields that
// do not apply to an artifact stay zero and are omitted from the JSON.
type Metadata struct {
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Codec    string  `json:"codec,omitempty"`
	Format   string  `json:"format,omitempty"`
	FPS      int     `json:"fps,omitempty"`
}

type Artifact struct {
	URL      string   `json:"url"`
	Size     int64    `json:"size"`
	Metadata Metadata `json:"metadata"`
}

type FaceBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type Face struct {
	Box        FaceBox   `json:"box"`
	Embedding  []float32 `json:"embedding,omitempty"`
	GroupIndex int       `json:"group_index"`
	Age        *float64  `json:"age,omitempty"`
	Gender     *string   `json:"gender,omitempty"`
	Quality    *float64  `json:"quality,omitempty"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
}

type FaceDetectionConfig struct {
	Enabled                bool    `json:"enabled"`
	SimilarityThreshold    float64 `json:"similarity_threshold,omitempty"`
	MinFacesInGroup        int     `json:"min_faces_in_group,omitempty"`
	SampleIntervalSecs     float64 `json:"sample_interval,omitempty"`
	DetectorScoreThreshold float64 `json:"detector_score_threshold,omitempty"`
	AvatarSize             int     `json:"avatar_size,omitempty"`
	AvatarQuality          int     `json:"avatar_quality,omitempty"`
}

type CallbackAuthKind string

const (
	CallbackAuthNone   CallbackAuthKind = ""
	CallbackAuthBearer CallbackAuthKind = "bearer"
	CallbackAuthBasic  CallbackAuthKind = "basic"
	CallbackAuthAPIKey CallbackAuthKind = "api_key"
)

type CallbackAuth struct {
	Kind     CallbackAuthKind `json:"kind,omitempty"`
	Token    string           `json:"token,omitempty"`    // bearer
	Username string           `json:"username,omitempty"` // basic
	Password string           `json:"password,omitempty"` // basic
	Header   string           `json:"header,omitempty"`   // api_key
	Key      string           `json:"key,omitempty"`      // api_key
}

type Callback struct {
	URL  string       `json:"url"`
	Auth CallbackAuth `json:"auth,omitempty"`
}

// FaceDetection is the task's face-detection stage state.
type FaceDetection struct {
	Stage   FaceStage `json:"stage"`
	Faces   []Face    `json:"faces,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Attempt int       `json:"attempt"`
}

// Task is the single unit of work the orchestrator tracks end to end (spec
// §3). Every mutation goes through Store; this struct is the value the
// store hands back to callers, never a live handle into its internals.
type Task struct {
	TaskID             string              `json:"task_id"`
	Status             Status              `json:"status"`
	Source             string              `json:"source"`
	SubmittedProfiles  []Profile           `json:"submitted_profiles"`
	EffectiveProfiles  []string            `json:"effective_profiles"` // profile_id, ordered
	ProfileByID        map[string]Profile  `json:"profile_by_id"`
	DroppedProfiles    []string            `json:"dropped_profiles,omitempty"`
	Outputs            map[string][]Artifact `json:"outputs"`
	FailedProfiles     map[string]string   `json:"failed_profiles"` // profile_id -> reason
	ProfileAttempts    map[string]int      `json:"profile_attempts"`
	FaceDetection      FaceDetection       `json:"face_detection"`
	DetectedMediaType  MediaType           `json:"detected_media_type"`
	S3Layout           S3Layout            `json:"s3_layout"`
	FaceConfig         *FaceDetectionConfig `json:"face_config,omitempty"`
	Callback           *Callback           `json:"callback,omitempty"`
	NotifyTopic        string              `json:"notify_topic,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	Error              string              `json:"error,omitempty"`
}

// Clone deep-copies the mutable maps/slices so a Store implementation can
// safely hand out Task values without readers aliasing its internal state.
func (t *Task) Clone() *Task {
	c := *t
	c.SubmittedProfiles = append([]Profile(nil), t.SubmittedProfiles...)
	c.EffectiveProfiles = append([]string(nil), t.EffectiveProfiles...)
	c.DroppedProfiles = append([]string(nil), t.DroppedProfiles...)
	c.ProfileByID = make(map[string]Profile, len(t.ProfileByID))
	for k, v := range t.ProfileByID {
		c.ProfileByID[k] = v
	}
	c.Outputs = make(map[string][]Artifact, len(t.Outputs))
	for k, v := range t.Outputs {
		c.Outputs[k] = append([]Artifact(nil), v...)
	}
	c.FailedProfiles = make(map[string]string, len(t.FailedProfiles))
	for k, v := range t.FailedProfiles {
		c.FailedProfiles[k] = v
	}
	c.ProfileAttempts = make(map[string]int, len(t.ProfileAttempts))
	for k, v := range t.ProfileAttempts {
		c.ProfileAttempts[k] = v
	}
	c.FaceDetection.Faces = append([]Face(nil), t.FaceDetection.Faces...)
	if t.Callback != nil {
		cb := *t.Callback
		c.Callback = &cb
	}
	if t.FaceConfig != nil {
		fc := *t.FaceConfig
		c.FaceConfig = &fc
	}
	return &c
}

// IsTerminal reports whether Status is one of the three terminal states.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case StatusCompleted, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// Outstanding returns D = effective_profiles \ (outputs.keys ∪ failed_profiles),
// the set the merge protocol (spec §4.6 step 4) evaluates against.
func (t *Task) Outstanding() []string {
	var d []string
	for _, pid := range t.EffectiveProfiles {
		if _, ok := t.Outputs[pid]; ok {
			continue
		}
		if _, ok := t.FailedProfiles[pid]; ok {
			continue
		}
		d = append(d, pid)
	}
	return d
}
