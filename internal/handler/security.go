package handler

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
)

// requireAdmin guards merchant-side endpoints behind a shared secret sent in
// the X-Admin-Key header. Both sides are hashed before comparison so the
// check is constant-time regardless of key length.
func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.adminSecret == "" {
			writeError(w, http.StatusForbidden, "admin endpoints are disabled")
			return
		}

		got := sha256.Sum256([]byte(r.Header.Get("X-Admin-Key")))
		want := sha256.Sum256([]byte(h.adminSecret))
		if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}
