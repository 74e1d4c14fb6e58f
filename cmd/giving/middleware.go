package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/sapliy/nightly-giving/internal/policy"
	"github.com/sapliy/nightly-giving/pkg/jsonutil"
)

type policyKey struct{}

// requireAdmin validates the bearer token and stores its policy context.
// Authorization of the concrete action happens in the handler.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			jsonutil.WriteError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		pctx, err := policy.ParseAdminToken(s.jwtSecret, token)
		if err != nil {
			s.logger.WarnContext(r.Context(), "rejected admin token", "error", err)
			jsonutil.WriteError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), policyKey{}, pctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func policyFrom(ctx context.Context) *policy.PolicyContext {
	pctx, _ := ctx.Value(policyKey{}).(*policy.PolicyContext)
	return pctx
}
