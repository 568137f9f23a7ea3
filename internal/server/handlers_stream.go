package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quizmentor-ai/quizmentor/internal/relay"
	"github.com/quizmentor-ai/quizmentor/pkg/types"
)

// requesterHeader carries the caller identity, injected by the upstream
// gateway after authentication. The relay trusts it as-is.
const requesterHeader = "X-Requester-ID"

func requesterID(r *http.Request) string {
	return r.Header.Get(requesterHeader)
}

// startStream handles POST /stream
func (s *Server) startStream(w http.ResponseWriter, r *http.Request) {
	requester := requesterID(r)
	if requester == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "X-Requester-ID header is required")
		return
	}

	var req types.StartStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.SubjectID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "subjectId is required")
		return
	}

	id, err := s.registry.StartStream(r.Context(), requester, req)
	if err != nil {
		if errors.Is(err, relay.ErrShuttingDown) {
			writeError(w, http.StatusServiceUnavailable, ErrCodeProviderError, "Server is shutting down")
			return
		}
		s.log.Error().Err(err).Str("subject", req.SubjectID).Msg("failed to start stream")
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, types.StartStreamResponse{StreamID: id})
}

// pollStream handles GET /stream/{streamID}?cursor=N
func (s *Server) pollStream(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")

	cursor := 0
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "cursor must be an integer")
			return
		}
		cursor = n
	}

	resp, err := s.registry.Poll(streamID, cursor)
	if err != nil {
		if errors.Is(err, relay.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "Stream not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// abortStream handles POST /stream/{streamID}/abort
func (s *Server) abortStream(w http.ResponseWriter, r *http.Request) {
	requester := requesterID(r)
	if requester == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "X-Requester-ID header is required")
		return
	}

	streamID := chi.URLParam(r, "streamID")

	if err := s.registry.Abort(streamID, requester); err != nil {
		switch {
		case errors.Is(err, relay.ErrUnauthorized):
			writeError(w, http.StatusForbidden, ErrCodePermissionDenied, "Stream belongs to another requester")
		case errors.Is(err, relay.ErrNotFound):
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "Stream not found")
		default:
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, types.AbortResponse{Success: true})
}

// health handles GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"streams": s.registry.Len(),
	})
}
