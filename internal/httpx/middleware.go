package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ariefcatur/go-menu-orders/internal/apperr"
	"github.com/ariefcatur/go-menu-orders/internal/logger"
)

type userKey struct{}

// UserFromContext returns the caller resolved by the auth middleware.
func UserFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userKey{}).(int64)
	return id, ok && id > 0
}

// requestLogger puts a request-scoped logger in the context and logs one
// line per request once it completes.
func requestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := middleware.GetReqID(r.Context())
			log := base.With(slog.String("request_id", reqID))
			ctx := logger.WithRequestID(logger.NewContext(r.Context(), log), reqID)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			log.Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)))
		})
	}
}

// authenticate resolves the caller from X-User-ID, which an upstream
// identity layer sets. demoUserID, when positive, stands in for a missing
// header.
func authenticate(demoUserID int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("X-User-ID"))
			var id int64
			switch {
			case raw != "":
				parsed, err := strconv.ParseInt(raw, 10, 64)
				if err != nil || parsed <= 0 {
					writeError(w, r, apperr.Unauthorized("invalid X-User-ID"))
					return
				}
				id = parsed
			case demoUserID > 0:
				id = demoUserID
			default:
				writeError(w, r, apperr.Unauthorized("authentication required"))
				return
			}

			ctx := context.WithValue(r.Context(), userKey{}, id)
			ctx = logger.NewContext(ctx, logger.FromContext(ctx, nil).With(slog.Int64("user_id", id)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func userID(r *http.Request) int64 {
	id, _ := UserFromContext(r.Context())
	return id
}
