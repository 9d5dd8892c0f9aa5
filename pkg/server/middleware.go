package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/tzrikka/revowners/internal/logger"
)

const requestIDHeader = "X-Request-ID"

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		l := logger.FromContext(r.Context()).With(slog.String("request_id", id))
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), l)))
	})
}

func logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := logger.FromContext(r.Context()).With(slog.String("method", r.Method), slog.String("path", r.URL.Path))
		l.Debug("request started", slog.String("remote_addr", r.RemoteAddr))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		t := time.Now()
		next.ServeHTTP(ww, r)

		l.Info("request completed", slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()), slog.Duration("duration", time.Since(t)))
	})
}
