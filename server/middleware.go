package server

import (
	"context"
	"net/http"
	"strings"

	"mvgen/core/auth"
	"mvgen/logger"
)

type contextKey string

const clientKey contextKey = "client"

// corsMiddleware 允许跨域访问
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Disposition")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware 校验 Bearer token，未配置 JWT_SECRET 时放行
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.JWTSecret == "" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		claims, err := auth.ParseToken(s.cfg.JWTSecret, parts[1])
		if err != nil {
			logger.Warn("Invalid API token", logger.ErrorField(err))
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), clientKey, claims.Client)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// checkQueryToken WebSocket 使用 query 参数携带 token
func (s *Server) checkQueryToken(r *http.Request) bool {
	if s.cfg.JWTSecret == "" {
		return true
	}
	_, err := auth.ParseToken(s.cfg.JWTSecret, r.URL.Query().Get("token"))
	return err == nil
}
