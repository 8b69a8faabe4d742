package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"melodycommons/core/auth"
	"melodycommons/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterThenLogin(t *testing.T) {
	env := newTestEnv()

	rr := httptest.NewRecorder()
	env.handler.RegisterHandler(rr, httptest.NewRequest(http.MethodPost, "/auth/register",
		strings.NewReader(`{"username":"bob","password":"hunter2"}`)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	env.handler.LoginHandler(rr, httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"username":"bob","password":"hunter2"}`)))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "bearer", body["token_type"])

	username, err := env.tokens.Verify(body["access_token"])
	require.NoError(t, err)
	assert.Equal(t, "bob", username)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	env := newTestEnv()

	rr := httptest.NewRecorder()
	env.handler.RegisterHandler(rr, httptest.NewRequest(http.MethodPost, "/auth/register",
		strings.NewReader(`{"username":"alice","password":"pw"}`)))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestLoginWrongPasswordAndUnknownUserLookAlike(t *testing.T) {
	env := newTestEnv()
	hash, err := auth.HashPassword("right")
	require.NoError(t, err)
	env.userRepo.users["carol"] = &model.User{ID: 7, Username: "carol", PasswordHash: hash}

	wrongPw := httptest.NewRecorder()
	env.handler.LoginHandler(wrongPw, httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"username":"carol","password":"wrong"}`)))

	unknown := httptest.NewRecorder()
	env.handler.LoginHandler(unknown, httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"username":"nobody","password":"wrong"}`)))

	assert.Equal(t, http.StatusUnauthorized, wrongPw.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrongPw.Body.String(), unknown.Body.String(),
		"responses must not reveal whether the username exists")
}

func TestAuthMiddlewareLoadsCurrentUser(t *testing.T) {
	env := newTestEnv()
	token, err := env.tokens.Generate("alice")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	env.handler.AuthMiddleware(env.handler.MeHandler)(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body userResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "alice", body.Username)
}

func TestAuthMiddlewareRejectsBadHeaders(t *testing.T) {
	env := newTestEnv()

	cases := map[string]string{
		"missing":     "",
		"not bearer":  "Basic abc",
		"bad token":   "Bearer garbage",
		"extra parts": "Bearer a b",
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		env.handler.AuthMiddleware(env.handler.MeHandler)(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, name)
	}
}
