package middleware

import (
	"context"
	"net/http"
)

type peerAddrKey struct{}

// PeerAddr records the connecting peer's host:port before RealIP rewrites
// RemoteAddr from forwarding headers. It must be installed ahead of RealIP.
func PeerAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), peerAddrKey{}, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPeerAddr returns the address recorded by PeerAddr, or RemoteAddr when
// the middleware did not run.
func GetPeerAddr(r *http.Request) string {
	if addr, ok := r.Context().Value(peerAddrKey{}).(string); ok && addr != "" {
		return addr
	}
	return r.RemoteAddr
}
