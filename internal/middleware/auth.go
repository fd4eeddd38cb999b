package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/onnwee/cafeindex/internal/auth"
)

// Auth failure reasons recorded on the auth_failures_total counter.
const (
	AuthReasonMissing   = "missing"
	AuthReasonExpired   = "expired"
	AuthReasonInvalid   = "invalid"
	AuthReasonForbidden = "forbidden"
)

// RequireOperator guards mutating endpoints with an operator bearer token
// carrying scope. A nil svc disables the check so local development can run
// without a secret; configuration refuses that in production.
func RequireOperator(svc *auth.JWTService, scope string, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if svc == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				metrics.IncAuthFailures(AuthReasonMissing)
				writeAuthError(w, r, http.StatusUnauthorized, "auth_failed", "Missing bearer token")
				return
			}

			claims, err := svc.ValidateToken(token)
			if err != nil {
				reason, msg := AuthReasonInvalid, "Invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					reason, msg = AuthReasonExpired, "Token expired"
				}
				metrics.IncAuthFailures(reason)
				writeAuthError(w, r, http.StatusUnauthorized, "auth_failed", msg)
				return
			}

			if !claims.HasScope(scope) {
				metrics.IncAuthFailures(AuthReasonForbidden)
				writeAuthError(w, r, http.StatusForbidden, "forbidden", "Token lacks scope "+scope)
				return
			}

			if rw := findResponseWriter(w); rw != nil {
				rw.operator = claims.Subject
			}
			next.ServeHTTP(w, r.WithContext(SetOperator(r.Context(), claims.Subject)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// writeAuthError mirrors the API error envelope; the api package imports
// this one so it cannot be reused directly.
func writeAuthError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	UpdateResponseContext(w, SetErrorCode(r.Context(), code))
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="cafeindex"`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]map[string]string{
		"error": {"code": code, "message": message},
	})
}
