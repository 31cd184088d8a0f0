package api

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AdminTokenLength is the length of generated admin tokens
const AdminTokenLength = 40

// AdminMiddleware accepts requests carrying a bearer token whose bcrypt hash
// matches tokenHash. With no hash configured every request is rejected.
func AdminMiddleware(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				WriteError(w, http.StatusUnauthorized, ErrCodeAuthentication, "Admin token not configured", nil)
				return
			}

			token := bearerToken(r)
			if token == "" {
				WriteUnauthorizedError(w)
				return
			}

			if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
				WriteError(w, http.StatusUnauthorized, ErrCodeAuthentication, "Invalid token", nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

// NewAdminToken generates a random admin token and its bcrypt hash
func NewAdminToken() (token, hash string, err error) {
	token, err = generateRandomToken(AdminTokenLength)
	if err != nil {
		return "", "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash token: %w", err)
	}
	return token, string(hashed), nil
}

// generateRandomToken creates a URL-safe random token of the given length
func generateRandomToken(length int) (string, error) {
	// base64 turns 3 bytes into 4 characters
	numBytes := (length * 3 / 4) + 1

	randomBytes := make([]byte, numBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("crypto/rand.Read failed: %w", err)
	}

	token := base64.RawURLEncoding.EncodeToString(randomBytes)
	if len(token) > length {
		token = token[:length]
	}

	return token, nil
}
