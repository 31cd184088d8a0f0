package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestAdminMiddleware(t *testing.T) {
	hash := hashToken(t, testAdminToken)

	tests := []struct {
		name       string
		hash       string
		header     string
		wantStatus int
	}{
		{"valid token", hash, "Bearer " + testAdminToken, http.StatusOK},
		{"wrong token", hash, "Bearer nope", http.StatusUnauthorized},
		{"missing header", hash, "", http.StatusUnauthorized},
		{"basic scheme", hash, "Basic " + testAdminToken, http.StatusUnauthorized},
		{"no hash configured", "", "Bearer " + testAdminToken, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			AdminMiddleware(tt.hash)(next).ServeHTTP(rr, req)

			assertStatus(t, rr, tt.wantStatus)
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("next called = %v", called)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				assertErrorCode(t, rr, ErrCodeAuthentication)
			}
		})
	}
}

func TestNewAdminToken(t *testing.T) {
	token, hash, err := NewAdminToken()
	if err != nil {
		t.Fatalf("NewAdminToken() error = %v", err)
	}
	if len(token) != AdminTokenLength {
		t.Errorf("token length = %d, want %d", len(token), AdminTokenLength)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		t.Errorf("hash does not match token: %v", err)
	}

	other, _, err := NewAdminToken()
	if err != nil {
		t.Fatalf("NewAdminToken() error = %v", err)
	}
	if other == token {
		t.Error("tokens should be unique")
	}
}

func TestGenerateRandomToken(t *testing.T) {
	for _, length := range []int{8, 32, 64} {
		token, err := generateRandomToken(length)
		if err != nil {
			t.Fatalf("generateRandomToken(%d) error = %v", length, err)
		}
		if len(token) != length {
			t.Errorf("generateRandomToken(%d) length = %d", length, len(token))
		}
	}
}
