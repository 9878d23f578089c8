package httputil

import (
	"context"
	"net/http"
	"time"

	"github.com/clinicaec/hospital-backend/pkg/actor"
	"github.com/clinicaec/hospital-backend/pkg/errors"
	"github.com/clinicaec/hospital-backend/pkg/logger"
	"github.com/clinicaec/hospital-backend/pkg/permissions"
	"github.com/google/uuid"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

// Identity headers set by the gateway after validating the bearer token.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
	HeaderUserRole = "X-User-Role"
)

// RequestID middleware adds a request ID to each request
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger middleware logs HTTP requests. It stores a logger tagged with the
// request id and the forwarded caller on the context for later middleware.
func Logger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLog := log.WithRequestID(GetRequestID(r.Context()))
			if userID := r.Header.Get(HeaderUserID); userID != "" {
				reqLog = reqLog.WithActor(userID, r.Header.Get(HeaderUserRole))
			}

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r.WithContext(logger.IntoContext(r.Context(), reqLog)))

			reqLog.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("HTTP request")
		})
	}
}

// Recoverer middleware recovers from panics
func Recoverer(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.FromContext(r.Context(), log).Error().
						Interface("panic", err).
						Str("path", r.URL.Path).
						Msg("panic recovered")

					Error(w, errors.Internal("internal server error"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// CallerIdentity turns the identity headers forwarded by the gateway into an
// actor.Actor on the request context.
//
// Requests without X-User-ID are rejected with 401. /health is exempt for
// monitoring.
func CallerIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		userID := r.Header.Get(HeaderUserID)
		if userID == "" {
			Error(w, errors.Unauthorized("missing caller identity"))
			return
		}

		ctx := actor.WithActor(r.Context(), &actor.Actor{
			ID:   userID,
			Name: r.Header.Get(HeaderUserName),
			Role: r.Header.Get(HeaderUserRole),
		})

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission rejects callers whose role does not grant perm.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a := actor.FromContext(r.Context())
			if a == nil {
				Error(w, errors.Unauthorized("missing caller identity"))
				return
			}
			if !permissions.RoleHas(a.Role, perm) {
				Error(w, errors.Forbidden("role "+a.Role+" lacks permission "+perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
