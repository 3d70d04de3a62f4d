package auth

import (
	"net/http"
	"strings"

	"github.com/meridian-ims/meridian/internal/platform/httpx"
	"github.com/meridian-ims/meridian/internal/shared"
)

// Middleware authenticates requests carrying a bearer token. Requests
// without an Authorization header pass through unauthenticated; permission
// middleware downstream rejects them where authentication is required.
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			actor, err := svc.Authenticate(r.Context(), strings.TrimSpace(raw))
			if err != nil {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
		})
	}
}
