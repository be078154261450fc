package gateway

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const correlationKey contextKey = "correlationID"

const headerCorrelation = "X-Correlation-ID"

// correlationMiddleware attaches a correlation identifier to every request,
// honouring one supplied by the caller and echoing it in the response.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerCorrelation)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerCorrelation, id)
		ctx := context.WithValue(r.Context(), correlationKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CorrelationID extracts the request's correlation identifier, if present.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey).(string); ok {
		return id
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware emits one structured line per request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := s.nowFn()
		next.ServeHTTP(recorder, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"durationMs", s.nowFn().Sub(started).Milliseconds(),
			"correlationId", CorrelationID(r.Context()),
		)
	})
}
