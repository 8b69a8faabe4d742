package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"melodycommons/logger"
	"melodycommons/model"

	"github.com/google/uuid"
)

type contextKey string

const userContextKey contextKey = "currentUser"

var errUnknownUser = errors.New("token subject does not exist")

// corsMiddleware allows browser clients on other origins to reach the API,
// including Range requests for audio seeking.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware tags each request with an ID and logs its outcome.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()

		lw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lw, r)

		logger.Info("Request handled",
			logger.String("requestId", requestID),
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", lw.status),
			logger.Duration("duration", time.Since(start)))
	})
}

// statusWriter remembers the status code written to the client.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// AuthMiddleware verifies the bearer token and loads the current user into
// the request context. Signature and expiry are checked on every request.
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeUnauthorized(w, "Authorization header is required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeUnauthorized(w, "Invalid authorization header format")
			return
		}

		user, err := h.userFromToken(parts[1])
		if err != nil {
			writeUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// userFromToken verifies a token string and resolves its subject to a user.
func (h *APIHandler) userFromToken(token string) (*model.User, error) {
	username, err := h.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	user, err := h.userRepo.GetUserByUsername(username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// Token subject no longer exists; treat like a bad token.
		return nil, errUnknownUser
	}
	return user, nil
}

// CurrentUser extracts the authenticated user from the request context.
func CurrentUser(ctx context.Context) *model.User {
	user, _ := ctx.Value(userContextKey).(*model.User)
	return user
}
