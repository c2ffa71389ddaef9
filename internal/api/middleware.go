package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ctxKey struct{}

// requestInfo is what observe attaches to each request context.
type requestInfo struct {
	id  string
	log *slog.Logger
}

// logFor returns the request-scoped logger, or the default logger outside
// a request.
func logFor(ctx context.Context) *slog.Logger {
	if ri, ok := ctx.Value(ctxKey{}).(*requestInfo); ok {
		return ri.log
	}
	return slog.Default()
}

// statusRecorder remembers the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// requestID reuses a caller-supplied X-Request-ID or mints a 32-char one.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" && len(id) <= 64 {
		return id
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// observe tags the request with an id and logger, counts it in m and writes
// one access log line. Health checks are logged at debug.
func observe(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := requestID(r)
			w.Header().Set("X-Request-ID", id)
			ri := &requestInfo{id: id, log: slog.Default().With("rid", id)}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			m.RecordRequest()
			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxKey{}, ri)))

			switch {
			case rec.status >= 500:
				m.RecordError()
			case rec.status >= 400:
				m.RecordClientError()
			}
			level := slog.LevelInfo
			if strings.HasSuffix(r.URL.Path, "/healthz") {
				level = slog.LevelDebug
			}
			ri.log.Log(r.Context(), level, "req",
				"method", r.Method, "path", r.URL.Path, "status", rec.status, "dur", time.Since(start).String())
		})
	}
}

// recoverPanics turns a handler panic into a 500 envelope.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logFor(r.Context()).Error("handler panic", "panic", v, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, "Internal server error", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// simulateLatency delays task API calls by d so clients can exercise their
// timeouts. Health checks are answered at once.
func simulateLatency(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api/") && !strings.HasSuffix(r.URL.Path, "/healthz") {
				t := time.NewTimer(d)
				defer t.Stop()
				select {
				case <-t.C:
				case <-r.Context().Done():
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limitBody caps request bodies at n bytes.
func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

// chain wraps h so the first middleware is outermost.
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
