package admission

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/NVIDIA/mediaorch/api"
	"github.com/NVIDIA/mediaorch/cmn"
	"github.com/NVIDIA/mediaorch/cmn/nlog"
	"github.com/NVIDIA/mediaorch/retention"
	"github.com/NVIDIA/mediaorch/task"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxUploadBytes = 1 << 30 // 1GiB; spec places no hard cap, this bounds worst-case memory

// Server is the thin HTTP surface named in spec §6.1: validation and
// translation only, all real work delegated to Controller/Manager/Store.
type Server struct {
	Ctl   *Controller
	Ret   *retention.Manager
	Store task.Store
}

func NewServer(ctl *Controller, ret *retention.Manager, store task.Store) *Server {
	return &Server{Ctl: ctl, Ret: ret, Store: store}
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /transcode", s.handleSubmit)
	mux.HandleFunc("GET /task/{id}", s.handleGetTask)
	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("GET /tasks/summary", s.handleSummary)
	mux.HandleFunc("POST /task/{id}/retry", s.handleRetry)
	mux.HandleFunc("DELETE /task/{id}", s.handleDelete)
	mux.HandleFunc("POST /task/{id}/callback", s.handleResendCallback)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/db", s.handleHealthDB)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, cmn.NewErrBadRequest("invalid multipart form: "+err.Error()))
		return
	}

	in := SubmitInput{
		Source:      r.FormValue("media_url"),
		NotifyTopic: r.FormValue("pubsub_topic"),
	}

	if file, hdr, err := r.FormFile("video"); err == nil {
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			writeError(w, cmn.NewErrBadRequest("failed to read upload: "+err.Error()))
			return
		}
		in.UploadBytes = data
		in.UploadFilename = hdr.Filename
		in.MIMEType = hdr.Header.Get("Content-Type")
	}

	profiles, err := api.DecodeProfiles([]byte(r.FormValue("profiles")))
	if err != nil {
		writeError(w, err)
		return
	}
	in.Profiles = profiles

	layout, err := api.DecodeS3Layout([]byte(r.FormValue("s3_output_config")))
	if err != nil {
		writeError(w, err)
		return
	}
	in.S3Layout = layout

	if raw := r.FormValue("face_detection_config"); raw != "" {
		fc, err := api.DecodeFaceConfig([]byte(raw))
		if err != nil {
			writeError(w, err)
			return
		}
		in.FaceConfig = fc
	}

	if cbURL := r.FormValue("callback_url"); cbURL != "" {
		cb := &task.Callback{URL: cbURL}
		if raw := r.FormValue("callback_auth"); raw != "" {
			auth, err := api.DecodeCallbackAuth([]byte(raw))
			if err != nil {
				writeError(w, err)
				return
			}
			if auth != nil {
				cb.Auth = *auth
			}
		}
		in.Callback = cb
	}

	t, dropped, err := s.Ctl.Submit(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SubmitResponse{
		TaskID:            t.TaskID,
		Status:            string(t.Status),
		EffectiveProfiles: t.EffectiveProfiles,
		DroppedProfiles:   dropped,
		FaceEnabled:       t.FaceDetection.Stage != task.FaceDisabled,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.BuildTaskResult(t))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := task.ListFilter{Status: task.Status(q.Get("status")), Sort: q.Get("sort")}
	limit := atoiDefault(q.Get("limit"), 50)
	offset := atoiDefault(q.Get("offset"), 0)

	tasks, total, err := s.Store.List(r.Context(), filter, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := api.ListResponse{Total: total, Tasks: make([]api.TaskResult, 0, len(tasks))}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, api.BuildTaskResult(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Store.Summary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	wipe := r.URL.Query().Get("delete_files") == "true"
	t, err := s.Ret.Retry(r.Context(), r.PathValue("id"), wipe)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.BuildTaskResult(t))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	wipeArtifacts := q.Get("delete_files") == "true"
	wipeFaces := q.Get("delete_faces") == "true"
	counts, err := s.Ret.Delete(r.Context(), r.PathValue("id"), wipeArtifacts, wipeFaces)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleResendCallback(w http.ResponseWriter, r *http.Request) {
	if err := s.Ret.ResendCallback(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealthDB(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Store.Summary(r.Context()); err != nil {
		nlog.Errorf("health/db: store unreachable: %v", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a cmn.Error's Kind to the HTTP status codes named in spec
// §6.1 (200 accepted, 400 validation error, 409 duplicate, 500 orchestration
// error) and §7's per-kind table.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "InternalError"
	switch {
	case cmn.IsKind(err, cmn.KindBadRequest):
		status, kind = http.StatusBadRequest, string(cmn.KindBadRequest)
	case cmn.IsKind(err, cmn.KindNoApplicableProfile):
		status, kind = http.StatusBadRequest, string(cmn.KindNoApplicableProfile)
	case cmn.IsKind(err, cmn.KindNotFound):
		status, kind = http.StatusNotFound, string(cmn.KindNotFound)
	case cmn.IsKind(err, cmn.KindConflict), cmn.IsKind(err, cmn.KindStorageConflict):
		status, kind = http.StatusConflict, string(cmn.KindConflict)
	}
	if status == http.StatusInternalServerError {
		nlog.Errorf("request failed: %v", err)
	}
	writeJSON(w, status, api.ErrorResponse{Kind: kind, Message: err.Error()})
}
