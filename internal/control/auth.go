// Package control implements the out-of-core HTTP+WebSocket API that
// realizes the debug session protocol engine's collaborator tool-surface
// contract for demonstration and test purposes.
package control

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// serviceClaims is deliberately minimal: a single shared-secret service
// token, not a user/org model — there's no multi-tenant concept in a
// local debugger adapter.
type serviceClaims struct {
	jwt.RegisteredClaims
}

// IssueServiceToken mints a long-lived HS256 bearer token for the control
// API, signed with secret.
func IssueServiceToken(secret string) (string, error) {
	claims := serviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "wtdbg",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(365 * 24 * time.Hour)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("control: sign service token: %w", err)
	}
	return signed, nil
}

func validateServiceToken(secret, token string) error {
	parsed, err := jwt.ParseWithClaims(token, &serviceClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

// requireAuth wraps a handler with bearer-token auth. An empty bearerToken
// disables auth entirely (local/dev mode).
func requireAuth(bearerToken string, next http.Handler) http.Handler {
	if bearerToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if err := validateServiceToken(bearerToken, token); err != nil {
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
