package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/liftlabs/liftlog-go/internal/api"
)

// handleCreateSession is the write endpoint the sync engine drains into.
// Request processing order matters for the idempotency contract:
//
//  1. If the Idempotency-Key header matches a cached (user, key) response
//     younger than 24h, replay that response verbatim. The client's retry of
//     a timed-out request sees exactly what the first attempt produced.
//  2. Otherwise insert. A session id that already exists yields 409 — the
//     record was created by an earlier attempt under a different key.
//  3. The final response (201 or 409) is cached under the key before it is
//     written, so a crash between insert and respond still replays.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)

	var keyHash string

	if idemKey := r.Header.Get("Idempotency-Key"); idemKey != "" {
		keyHash = hashIdempotencyKey(uid, idemKey)

		status, body, ok, err := s.store.LookupIdempotencyKey(r.Context(), keyHash)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "idempotency lookup failed")
			return
		}

		if ok {
			w.Header().Set("Idempotency-Replay", "true")
			writeRaw(w, status, body)

			return
		}
	}

	var req api.WorkoutSession

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if msg := validateSession(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	req.Normalize()

	session, err := s.store.InsertSession(r.Context(), uid, &req)

	switch {
	case errors.Is(err, ErrDuplicateSession):
		s.respondCached(w, r, keyHash, uid, http.StatusConflict,
			map[string]string{"error": "session already exists", "session_id": req.ID})

	case errors.Is(err, ErrDuplicateSet):
		writeError(w, http.StatusBadRequest, "set id already exists")

	case err != nil:
		s.logger.Error("session insert failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage failure")

	default:
		s.respondCached(w, r, keyHash, uid, http.StatusCreated, session)
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.store.GetSession(r.Context(), userID(r), r.PathValue("id"))

	switch {
	case errors.Is(err, ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")

	case err != nil:
		s.logger.Error("session load failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage failure")

	default:
		writeJSON(w, http.StatusOK, session)
	}
}

// respondCached writes the response and, when an idempotency key was sent,
// caches the exact bytes for replay.
func (s *Server) respondCached(w http.ResponseWriter, r *http.Request, keyHash, uid string, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encoding response")
		return
	}

	if keyHash != "" {
		if err := s.store.StoreIdempotencyKey(r.Context(), keyHash, uid, status, body); err != nil {
			s.logger.Warn("caching idempotent response failed", "error", err)
		}
	}

	writeRaw(w, status, body)
}

// validateSession checks the create payload, returning an error message for
// the client or "" when valid.
func validateSession(req *api.WorkoutSession) string {
	if req.ID == "" {
		return "id is required"
	}

	if req.WorkoutName == "" {
		return "workout_name is required"
	}

	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		return "date must be YYYY-MM-DD"
	}

	if len(req.Sets) == 0 {
		return "at least one set is required"
	}

	seen := make(map[string]bool, len(req.Sets))

	for i, set := range req.Sets {
		if set.ID == "" {
			return fmt.Sprintf("sets[%d].id is required", i)
		}

		if seen[set.ID] {
			return fmt.Sprintf("sets[%d].id duplicates another set", i)
		}

		seen[set.ID] = true

		if set.ExerciseID == "" {
			return fmt.Sprintf("sets[%d].exercise_id is required", i)
		}

		if set.Reps < 0 || set.Weight < 0 {
			return fmt.Sprintf("sets[%d]: weight and reps must be non-negative", i)
		}
	}

	return ""
}
