package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/christopherjohns/nodchat/internal/chat"
	"github.com/christopherjohns/nodchat/internal/room"
	"github.com/christopherjohns/nodchat/internal/user"
	"github.com/go-playground/validator/v10"
)

// maxBodySize bounds request bodies; profile pictures arrive base64 encoded.
const maxBodySize = 8 << 20

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Message: msg})
}

// writeError maps domain errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, room.ErrValidation):
		writeMessage(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), room.ErrValidation.Error()+": "))
	case errors.Is(err, user.ErrValidation):
		writeMessage(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), user.ErrValidation.Error()+": "))
	case errors.Is(err, errBadRequest), errors.Is(err, chat.ErrReservedIdentity), errors.Is(err, chat.ErrInvalidUsername):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, user.ErrInvalidCredentials):
		writeMessage(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, room.ErrNotFound), errors.Is(err, user.ErrNotFound), errors.Is(err, user.ErrNoPicture):
		writeMessage(w, http.StatusNotFound, "Not found")
	case errors.Is(err, chat.ErrStopped):
		writeMessage(w, http.StatusServiceUnavailable, "Service unavailable")
	default:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decode reads a JSON body into v and runs its validate tags.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body", errBadRequest)
	}
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s", errBadRequest, describe(err))
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(fields, "; ")
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

type userHandler func(w http.ResponseWriter, r *http.Request, username string)

// authenticated resolves the bearer session token to a username.
func (s *Server) authenticated(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, err := s.tokens.Verify(bearer(r))
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r, username)
	}
}

// admin guards routes with the configured admin token. Without one the
// admin API is disabled.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeMessage(w, http.StatusForbidden, "Admin API disabled")
			return
		}
		if subtle.ConstantTimeCompare([]byte(bearer(r)), []byte(s.adminToken)) != 1 {
			writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) limited(next http.HandlerFunc) http.Handler {
	if s.limiter == nil {
		return next
	}
	return s.limiter.Middleware(s.log, next)
}
