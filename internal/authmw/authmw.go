// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/linnemanlabs/go-core/xerrors"
)

type ctxKey struct{}

// BearerTokens returns middleware that accepts a request whose Authorization
// header carries any of tokens. Several tokens allow rotation without
// downtime. Every configured token is compared in constant time, so timing
// reveals neither the token nor which one matched. Blank tokens are ignored;
// it panics if none remain.
func BearerTokens(tokens ...string) func(http.Handler) http.Handler {
	var digests [][sha256.Size]byte
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			digests = append(digests, sha256.Sum256([]byte(t)))
		}
	}
	if len(digests) == 0 {
		panic(xerrors.New("authmw: at least one bearer token is required"))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				unauthorized(w, "missing or malformed authorization header")
				return
			}

			got := sha256.Sum256([]byte(auth[len("Bearer "):]))
			slot := -1
			for i := range digests {
				if subtle.ConstantTimeCompare(got[:], digests[i][:]) == 1 {
					slot = i
				}
			}
			if slot < 0 {
				unauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, slot)))
		})
	}
}

// BearerToken is BearerTokens with a single token.
func BearerToken(token string) func(http.Handler) http.Handler {
	return BearerTokens(token)
}

// TokenSlot reports which configured token (by position, blanks skipped)
// authenticated the request.
func TokenSlot(ctx context.Context) (int, bool) {
	slot, ok := ctx.Value(ctxKey{}).(int)
	return slot, ok
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="sieve"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
