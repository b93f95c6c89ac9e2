package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/lguibr/Mimeflow/internal/app"
	"github.com/lguibr/Mimeflow/internal/models"
	"github.com/lguibr/Mimeflow/internal/pose"
	"github.com/lguibr/Mimeflow/internal/service/session"
)

const (
	maxFrameBody = 1 << 20
	maxClipBody  = 1 << 30
	contentCBOR  = "application/cbor"
)

type handlers struct {
	app *app.Application
}

// createSessionRequest mirrors the gRPC CreateSession request.
type createSessionRequest struct {
	session.Overrides
	Estimator string `json:"estimator,omitempty"`
	AutoStart bool   `json:"autoStart,omitempty"`
}

type controlResponse struct {
	Snapshot models.SessionSnapshot `json:"snapshot"`
	Record   *models.ScoreRecord    `json:"record,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxFrameBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	// Attached estimators outlive the request.
	s, err := h.app.Registry.Launch(context.WithoutCancel(r.Context()), h.app.Options, req.Overrides,
		h.app.EstimatorFactory(), h.app.Provider(req.Estimator), req.AutoStart)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.app.Registry.List()
	out := make([]models.SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.app.Registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Registry.Remove(chi.URLParam(r, "sessionID")); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ingestFrame accepts one frame as JSON or, with Content-Type application/cbor, CBOR.
// It answers 200 with the tick when the frame triggered an evaluation and 202 otherwise.
func (h *handlers) ingestFrame(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var msg models.FrameMessage
	if strings.HasPrefix(r.Header.Get("Content-Type"), contentCBOR) {
		err = cbor.Unmarshal(body, &msg)
	} else {
		err = json.Unmarshal(body, &msg)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tick, err := h.app.Registry.Ingest(chi.URLParam(r, "sessionID"), &msg)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if tick == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, tick)
}

func (h *handlers) control(w http.ResponseWriter, r *http.Request) {
	s, err := h.app.Registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	action, err := session.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	rec, err := s.Control(r.Context(), action)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, controlResponse{Snapshot: s.Snapshot(), Record: rec})
}

func (h *handlers) sessionFeed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := h.app.Registry.Get(id); err != nil {
		writeSessionError(w, err)
		return
	}
	h.app.Hub.ServeWS(w, r, id)
}

func (h *handlers) globalFeed(w http.ResponseWriter, r *http.Request) {
	h.app.Hub.ServeWS(w, r, "")
}

func (h *handlers) listClips(w http.ResponseWriter, r *http.Request) {
	if h.app.Leaderboard == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("leaderboard is disabled"))
		return
	}
	clips, err := h.app.Leaderboard.Clips(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, clips)
}

func (h *handlers) topScores(w http.ResponseWriter, r *http.Request) {
	if h.app.Leaderboard == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("leaderboard is disabled"))
		return
	}
	limit := h.app.Cfg.Leaderboard.TopN
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	entries, err := h.app.Leaderboard.Top(r.Context(), chi.URLParam(r, "clipID"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// clipID hashes the uploaded reference video into its clip id.
func (h *handlers) clipID(w http.ResponseWriter, r *http.Request) {
	id, err := pose.ClipID(io.LimitReader(r.Body, maxClipBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"clipId": id})
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err)
	case session.IsClientError(err):
		writeError(w, http.StatusBadRequest, err)
	case session.IsConflict(err):
		writeError(w, http.StatusConflict, err)
	default:
		log.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}
