package auth

import (
	"crypto/subtle"
	"errors"
	"log"
	"net/http"
	"strings"
)

var (
	// ErrMissingToken is returned when a request carries no token at all.
	ErrMissingToken = errors.New("token is missing")
	// ErrInvalidToken is returned when the presented token does not match.
	ErrInvalidToken = errors.New("token is invalid")
)

// RequireToken returns middleware that checks for a bearer token in the
// Authorization header matching the configured API token.
// Returns 401 Unauthorized if authentication fails.
func RequireToken(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				log.Printf("Auth: %v", err)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if err := ValidateToken(expected, token); err != nil {
				log.Printf("Auth: Token validation failed: %v", err)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value (RFC 7235).
// The scheme is case-insensitive.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}

	fields := strings.Fields(header)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.Join(fields[1:], " "))
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// TokenFromRequest reads the token from the ?token= query parameter, falling
// back to the Authorization header. Browsers cannot set headers on WebSocket
// handshakes, so WebSocket endpoints rely on the query parameter.
func TokenFromRequest(r *http.Request) (string, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return BearerToken(r.Header.Get("Authorization"))
}

// ValidateToken compares the presented token against the expected one in constant time.
func ValidateToken(expected, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrMissingToken
	}
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}
