package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/noteai-go/internal/logging"
)

// apiKeyHeader is accepted as an alternative to a Bearer token. Editor
// plugins that cannot set Authorization use it.
const apiKeyHeader = "X-API-Key"

// Auth rejection reasons, used as the "reason" metric label.
const (
	authMissing = "missing"
	authInvalid = "invalid"
)

// authMiddleware requires NOTEAI_API_KEY on every request it wraps. With an
// empty apiKey it returns next unchanged; New logs the disabled state once.
//
// The key is read from "Authorization: Bearer <key>" or, failing that, from
// the X-API-Key header, and compared in constant time. Rejections get a 401
// JSON error and a Bearer challenge; reject is called with the reason so the
// caller can count it. Presented keys are never logged.
func authMiddleware(apiKey string, reject func(reason string), next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := requestKey(r)
		reason := ""
		switch {
		case key == "":
			reason = authMissing
		case subtle.ConstantTimeCompare([]byte(key), want) != 1:
			reason = authInvalid
		}
		if reason == "" {
			next.ServeHTTP(w, r)
			return
		}

		logging.FromContext(r.Context()).Warn("auth: request rejected",
			slog.String("path", r.URL.Path),
			slog.String("reason", reason),
		)
		if reject != nil {
			reject(reason)
		}
		challenge := `Bearer realm="noteai"`
		if reason == authInvalid {
			challenge += ` error="invalid_token"`
		}
		w.Header().Set("WWW-Authenticate", challenge)
		writeJSONError(w, "unauthorized: "+reason+" API key", http.StatusUnauthorized)
	})
}

// requestKey returns the API key presented by r, preferring a Bearer token
// over the X-API-Key header. Empty when neither is present.
func requestKey(r *http.Request) string {
	if tok := bearerToken(r); tok != "" {
		return tok
	}
	return strings.TrimSpace(r.Header.Get(apiKeyHeader))
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Empty when the header is absent or uses another scheme.
func bearerToken(r *http.Request) string {
	scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
