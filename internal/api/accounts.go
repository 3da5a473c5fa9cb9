package api

import (
	"errors"
	"net/http"

	"library-backend/internal/auth"
	"library-backend/internal/storage"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "error", "Invalid request body.")
		return
	}

	user, err := s.accounts.Register(r.Context(), body.Username, body.Email, body.Password)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			writeJSON(w, http.StatusBadRequest, fieldErrors{"username": {"A user with that username already exists."}})
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userView(*user))
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "error", "Invalid request body.")
		return
	}
	if body.Username == "" || body.Password == "" {
		badRequest(w, "error", "Username and password are required.")
		return
	}

	pair, user, err := s.accounts.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access":   pair.Access,
		"refresh":  pair.Refresh,
		"role":     string(user.Role),
		"username": user.Username,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Refresh string `json:"refresh"`
	}
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "error", "Invalid request body.")
		return
	}
	if body.Refresh == "" {
		badRequest(w, "refresh", "This field is required.")
		return
	}

	access, err := s.accounts.Refresh(body.Refresh)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": access})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if !auth.Can(currentUser(r.Context()).Role, auth.CapListUsers) {
		forbidden(w, "Not authorized.")
		return
	}

	users, err := s.lib.Users(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]userJSON, 0, len(users))
	for _, u := range users {
		out = append(out, userView(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}
