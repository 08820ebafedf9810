package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/MrEthical07/marketauth"
	"go.uber.org/zap"
)

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps an Engine error kind to its HTTP status and the message
// shown to the client.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, marketauth.ErrValidation):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, marketauth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, marketauth.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, marketauth.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, marketauth.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, marketauth.ErrRateLimited):
		return http.StatusTooManyRequests, "too many requests"
	case errors.Is(err, marketauth.ErrInvalidOrExpiredToken):
		return http.StatusBadRequest, "invalid or expired token"
	case errors.Is(err, marketauth.ErrInvalidOperation):
		return http.StatusBadRequest, "invalid operation"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)

	var rl *marketauth.RateLimitError
	if errors.As(err, &rl) {
		w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfterSeconds()))
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	respondJSON(w, status, errorBody{Error: msg})
}
