package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/R3E-Network/audio-verifier/infrastructure/httputil"
)

// BearerAuthMiddleware enforces a single shared bearer token on business
// endpoints. When the configured token is empty, authentication is disabled
// (development mode). Probe and metrics paths are always exempt.
type BearerAuthMiddleware struct {
	token     string
	skipPaths map[string]bool
}

// BearerAuthConfig configures the bearer authentication middleware.
type BearerAuthConfig struct {
	Token     string
	SkipPaths []string
}

// NewBearerAuthMiddleware creates a new bearer authentication middleware.
func NewBearerAuthMiddleware(cfg BearerAuthConfig) *BearerAuthMiddleware {
	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}
	return &BearerAuthMiddleware{
		token:     cfg.Token,
		skipPaths: skip,
	}
}

// Handler returns the middleware handler function.
func (m *BearerAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.token == "" || m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			httputil.Unauthorized(w, "invalid or missing authorization token")
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(m.token)) != 1 {
			httputil.Unauthorized(w, "invalid or missing authorization token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
