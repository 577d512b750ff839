package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/callscribe/callscribe/internal/audio"
	"github.com/callscribe/callscribe/internal/config"
	"github.com/callscribe/callscribe/internal/session"
)

func (r *Runtime) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/devices", r.handleDevices)
	mux.HandleFunc("GET /api/languages", r.handleLanguages)
	mux.HandleFunc("GET /api/status", r.handleStatus)
	mux.HandleFunc("GET /api/transcript", r.handleTranscript)
	mux.HandleFunc("GET /api/transcripts", r.handleTranscripts)
	mux.HandleFunc("POST /api/start", r.handleStart)
	mux.HandleFunc("POST /api/stop", r.handleStop)
	mux.HandleFunc("POST /api/cancel", r.handleCancel)
	mux.HandleFunc("GET /ws/transcription", r.handleWebSocket)
}

func (r *Runtime) handleDevices(w http.ResponseWriter, _ *http.Request) {
	devices, err := r.controller.Devices()
	if err != nil {
		r.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (r *Runtime) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"languages": config.Languages,
		"default":   r.cfg.Engine.DefaultLanguage,
		"auto":      true,
	})
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.controller.Status())
}

func (r *Runtime) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	transcript, segments := r.controller.Transcript()
	writeJSON(w, http.StatusOK, map[string]any{
		"transcript": transcript,
		"segments":   segments,
	})
}

func (r *Runtime) handleTranscripts(w http.ResponseWriter, req *http.Request) {
	records, err := r.archive.ListSessions(req.Context(), 0)
	if err != nil {
		r.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": records})
}

type startRequest struct {
	DeviceID *int   `json:"device_id"`
	Language string `json:"language"`
}

func (r *Runtime) handleStart(w http.ResponseWriter, req *http.Request) {
	var body startRequest
	if req.Body != nil && req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			r.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	deviceID := -1
	if body.DeviceID != nil {
		deviceID = *body.DeviceID
	}

	sessionID, err := r.controller.Start(deviceID, body.Language)
	if err != nil {
		r.writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"status":     "recording",
	})
}

type stopRequest struct {
	Save *bool `json:"save"`
}

func (r *Runtime) handleStop(w http.ResponseWriter, req *http.Request) {
	var body stopRequest
	if req.Body != nil && req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			r.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	save := true
	if body.Save != nil {
		save = *body.Save
	}

	result, err := r.controller.Stop(req.Context(), save)
	if err != nil {
		r.writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Runtime) handleCancel(w http.ResponseWriter, req *http.Request) {
	if err := r.controller.Cancel(req.Context()); err != nil {
		r.writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, session.ErrAlreadyRecording), errors.Is(err, session.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnsupportedLanguage):
		return http.StatusBadRequest
	case errors.Is(err, audio.ErrDeviceNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (r *Runtime) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		r.logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
