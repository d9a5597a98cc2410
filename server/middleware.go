package server

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/cors"
)

func (s *Server) cors() *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
}

// recoverer turns a handler panic into a 500 with a structured error body
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			s.log.WithField("path", r.URL.Path).
				WithField("stack", string(debug.Stack())).
				Errorf("panic in handler: %v", rec)
			writeError(w, http.StatusInternalServerError,
				fmt.Sprintf("服务器内部错误: %v", rec), "系统出现未知错误，请重试")
		}()

		next.ServeHTTP(w, r)
	})
}
