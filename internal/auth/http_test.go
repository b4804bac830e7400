// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation and user lookup

package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/2389/helpdesk-gateway/internal/store"
)

type stubUsers struct {
	users map[int64]*store.User
	err   error
}

func (s *stubUsers) GetUser(ctx context.Context, id int64) (*store.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func serve(t *testing.T, users UserStore, header string) (*httptest.ResponseRecorder, *AuthContext) {
	t.Helper()

	var got *AuthContext
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	HTTPAuthMiddleware(users, newVerifier(t), nil)(handler).ServeHTTP(rec, req)
	return rec, got
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	users := &stubUsers{users: map[int64]*store.User{5: {ID: 5, Username: "alice"}}}
	token, _ := newVerifier(t).Generate(5, time.Hour)

	rec, got := serve(t, users, "Bearer "+token)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got == nil || got.UserID != 5 || got.Username != "alice" {
		t.Errorf("AuthContext = %+v, want user 5 alice", got)
	}
}

func TestHTTPAuthMiddleware_Rejections(t *testing.T) {
	v := newVerifier(t)
	valid, _ := v.Generate(5, time.Hour)
	expired, _ := v.Generate(5, -time.Hour)
	unknown, _ := v.Generate(99, time.Hour)
	users := &stubUsers{users: map[int64]*store.User{5: {ID: 5, Username: "alice"}}}

	tests := []struct {
		name    string
		users   UserStore
		header  string
		status  int
		message string
	}{
		{"missing header", users, "", http.StatusUnauthorized, "missing authorization header"},
		{"basic scheme", users, "Basic abc", http.StatusUnauthorized, "invalid authorization header format"},
		{"empty bearer", users, "Bearer ", http.StatusUnauthorized, "empty token"},
		{"garbage token", users, "Bearer nope", http.StatusUnauthorized, "invalid token"},
		{"expired token", users, "Bearer " + expired, http.StatusUnauthorized, "token expired"},
		{"unknown user", users, "Bearer " + unknown, http.StatusUnauthorized, "user not found"},
		{"store failure", &stubUsers{err: errors.New("db down")}, "Bearer " + valid, http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, got := serve(t, tt.users, tt.header)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if got != nil {
				t.Error("handler should not run")
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			if !strings.Contains(rec.Body.String(), `"error":"`+tt.message+`"`) {
				t.Errorf("body = %s, want error %q", rec.Body.String(), tt.message)
			}
		})
	}
}
