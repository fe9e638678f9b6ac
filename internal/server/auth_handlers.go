package server

import (
	"encoding/json"
	"errors"
	"net/http"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := s.store.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, ErrBadCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	if err != nil {
		s.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage failure")

		return
	}

	s.writeTokens(w, user.ID)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	uid, err := s.signer.verify(req.RefreshToken, tokenKindRefresh)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}

	s.writeTokens(w, uid)
}

// writeTokens issues a fresh access/refresh pair. Refresh rotates both
// tokens, so a leaked refresh token goes stale as soon as the real client
// refreshes.
func (s *Server) writeTokens(w http.ResponseWriter, uid string) {
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  s.signer.mint(uid, tokenKindAccess, accessTokenTTL),
		RefreshToken: s.signer.mint(uid, tokenKindRefresh, refreshTokenTTL),
		ExpiresIn:    int(accessTokenTTL.Seconds()),
	})
}
