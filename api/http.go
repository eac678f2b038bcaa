package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/NVIDIA/mediaorch/cmn"
	"github.com/NVIDIA/mediaorch/task"
)

// SubmitRequest lists the fields of `POST /transcode` (spec §6.1): a
// multipart form carrying either an uploaded file or a media_url, plus
// four JSON-encoded fields and a couple of optional scalars. The HTTP
// handler decodes the form into admission.SubmitInput, not into this type.
type SubmitRequest struct {
	MediaURL            string
	UploadFilename       string
	UploadBytes          []byte
	Profiles             []task.Profile
	S3OutputConfig       task.S3Layout
	FaceDetectionConfig  *task.FaceDetectionConfig
	CallbackURL          string
	CallbackAuth         *task.CallbackAuth
	PubsubTopic          string
}

// DecodeProfiles strictly decodes the `profiles` form field: unknown fields
// are rejected (spec §6.1 "Unknown fields rejected"), which is why this
// decoder, like the three below it, uses
// encoding/json.Decoder.DisallowUnknownFields rather than the jsoniter
// codec in cmn/cos -- jsoniter's default configuration does not expose an
// equivalent strict mode.
func DecodeProfiles(raw []byte) ([]task.Profile, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var profiles []task.Profile
	if err := dec.Decode(&profiles); err != nil {
		return nil, cmn.NewErrBadRequest(fmt.Sprintf("invalid profiles: %v", err))
	}
	return profiles, nil
}

func DecodeS3Layout(raw []byte) (task.S3Layout, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var l task.S3Layout
	if err := dec.Decode(&l); err != nil {
		return l, cmn.NewErrBadRequest(fmt.Sprintf("invalid s3_output_config: %v", err))
	}
	return l, nil
}

func DecodeFaceConfig(raw []byte) (*task.FaceDetectionConfig, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var c task.FaceDetectionConfig
	if err := dec.Decode(&c); err != nil {
		return nil, cmn.NewErrBadRequest(fmt.Sprintf("invalid face_detection_config: %v", err))
	}
	return &c, nil
}

func DecodeCallbackAuth(raw []byte) (*task.CallbackAuth, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var a task.CallbackAuth
	if err := dec.Decode(&a); err != nil {
		return nil, cmn.NewErrBadRequest(fmt.Sprintf("invalid callback_auth: %v", err))
	}
	return &a, nil
}

// SubmitResponse is the synchronous reply to `POST /transcode` (spec §4.5
// "Reported back to the caller").
type SubmitResponse struct {
	TaskID            string   `json:"task_id"`
	Status            string   `json:"status"`
	EffectiveProfiles []string `json:"effective_profiles"`
	DroppedProfiles   []string `json:"dropped_profiles,omitempty"`
	FaceEnabled       bool     `json:"face_enabled"`
}

// ListResponse is the body of `GET /tasks`.
type ListResponse struct {
	Tasks []TaskResult `json:"tasks"`
	Total int          `json:"total"`
}

type ErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
