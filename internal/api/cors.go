package api

import (
	"net/http"
	"slices"
)

// CORSMiddleware sets CORS headers for allowed origins and answers
// preflight requests. With no origins configured it passes through.
func (s *Server) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if len(s.config.CORSAllowedOrigins) == 0 || origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		allowed := slices.Contains(s.config.CORSAllowedOrigins, "*") ||
			slices.Contains(s.config.CORSAllowedOrigins, origin)
		if !allowed {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
