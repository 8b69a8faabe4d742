package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"melodycommons/core/auth"
	"melodycommons/logger"
	"melodycommons/model"
	"melodycommons/repository"
)

// credentialsRequest is the body for both register and login.
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// RegisterHandler handles user registration. A taken username is a conflict.
func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "Username and password are required")
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		logger.Error("[Register] Failed to hash password", logger.ErrorField(err))
		writeInternalError(w)
		return
	}

	user := &model.User{
		Username:     req.Username,
		PasswordHash: hashedPassword,
	}
	userID, err := h.userRepo.CreateUser(user)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			writeConflict(w, "Username already registered")
			return
		}
		logger.Error("[Register] Failed to create user", logger.ErrorField(err))
		writeInternalError(w)
		return
	}

	logger.Info("[Register] User created", logger.String("username", req.Username))
	writeJSON(w, http.StatusOK, userResponse{ID: userID, Username: req.Username})
}

// LoginHandler verifies credentials and issues a bearer token.
func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "Username and password are required")
		return
	}

	user, err := h.userRepo.GetUserByUsername(req.Username)
	if err != nil {
		logger.Error("[Login] Failed to look up user", logger.ErrorField(err))
		writeInternalError(w)
		return
	}
	if user == nil || !auth.VerifyPassword(req.Password, user.PasswordHash) {
		// Same response for unknown user and wrong password.
		writeUnauthorized(w, "Incorrect username or password")
		return
	}

	token, err := h.tokens.Generate(user.Username)
	if err != nil {
		logger.Error("[Login] Failed to generate token", logger.ErrorField(err))
		writeInternalError(w)
		return
	}

	logger.Info("[Login] Login successful", logger.String("username", user.Username))
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

// MeHandler returns the authenticated user.
func (h *APIHandler) MeHandler(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())
	if user == nil {
		writeUnauthorized(w, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, userResponse{ID: user.ID, Username: user.Username})
}
