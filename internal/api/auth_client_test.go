package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestAuthClient(t *testing.T, handler http.Handler) *AuthClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewAuthClient(srv.URL+"/api", srv.Client(), testTimeouts())
	if err != nil {
		t.Fatalf("new auth client: %v", err)
	}
	return client
}

func TestLoginNormalizesSession(t *testing.T) {
	client := newTestAuthClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if r.URL.Path != "/api/auth/login" || body.Email != "ana@example.com" {
			t.Errorf("unexpected login %s %+v", r.URL.Path, body)
		}
		io.WriteString(w, `{"access_token":"tok-1","token_type":"bearer","user_id":7,"full_name":"Ana"}`)
	}))

	session, err := client.Login(context.Background(), " ana@example.com ", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.Token != "tok-1" || session.UserID != "7" || session.DisplayName != "Ana" {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.IssuedAt.IsZero() {
		t.Fatal("expected issued at")
	}
}

func TestLoginRejectsMalformedInputWithoutRequest(t *testing.T) {
	called := false
	client := newTestAuthClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	for _, tc := range []struct{ email, password string }{
		{"", "pw"},
		{"not-an-email", "pw"},
		{"ana@example.com", ""},
	} {
		if _, err := client.Login(context.Background(), tc.email, tc.password); !errors.Is(err, ErrAuth) {
			t.Fatalf("%q/%q: expected ErrAuth got %v", tc.email, tc.password, err)
		}
	}
	if called {
		t.Fatal("expected no request for malformed credentials")
	}
}

func TestLoginRejectedCredentials(t *testing.T) {
	client := newTestAuthClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"detail":"Incorrect email or password"}`)
	}))

	_, err := client.Login(context.Background(), "ana@example.com", "wrong")
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth got %v", err)
	}
}

func TestRegisterServerFailure(t *testing.T) {
	client := newTestAuthClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	err := client.Register(context.Background(), "ana@example.com", "pw", "Ana")
	if !errors.Is(err, ErrServer) {
		t.Fatalf("expected ErrServer got %v", err)
	}
}
