package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func serve(t *testing.T, handler http.Handler, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestRequireFirebaseAuthAllowsStaff(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID: "uid-123",
		Claims: map[string]any{
			"role":  []any{"Staff", "staff"},
			"email": "ops@sneakvault.sn",
		},
	}}

	called := false
	handler := NewAuthenticator(verifier).RequireFirebaseAuth(RoleStaff, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "uid-123" || identity.Email != "ops@sneakvault.sn" {
			t.Fatalf("unexpected identity %+v", identity)
		}
		if len(identity.Roles) != 1 || identity.Roles[0] != RoleStaff {
			t.Fatalf("expected deduplicated staff role, got %v", identity.Roles)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := serve(t, handler, "Bearer token-value")
	if rr.Code != http.StatusNoContent || !called {
		t.Fatalf("expected handler to run with 204, got %d", rr.Code)
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
}

func TestRequireFirebaseAuthRejects(t *testing.T) {
	cases := []struct {
		name     string
		verifier *stubTokenVerifier
		header   string
		status   int
		code     string
	}{
		{
			name:     "missing header",
			verifier: &stubTokenVerifier{},
			status:   http.StatusUnauthorized,
			code:     "unauthenticated",
		},
		{
			name:     "expired",
			verifier: &stubTokenVerifier{err: ErrTokenExpired},
			header:   "Bearer expired",
			status:   http.StatusUnauthorized,
			code:     "token_expired",
		},
		{
			name: "customer without role",
			verifier: &stubTokenVerifier{token: &firebaseauth.Token{
				UID:    "uid-456",
				Claims: map[string]any{"role": map[string]any{"admin": false}},
			}},
			header: "Bearer customer",
			status: http.StatusForbidden,
			code:   "insufficient_role",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewAuthenticator(tc.verifier).RequireFirebaseAuth(RoleStaff, RoleAdmin)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not execute")
			}))
			rr := serve(t, handler, tc.header)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if got := errorCode(t, rr); got != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, got)
			}
		})
	}
}

func TestRolesFromClaim(t *testing.T) {
	if got := rolesFromClaim("ADMIN"); len(got) != 1 || got[0] != "admin" {
		t.Fatalf("unexpected roles %v", got)
	}
	if got := rolesFromClaim(map[string]any{"staff": true, "admin": false}); len(got) != 1 || got[0] != "staff" {
		t.Fatalf("unexpected roles %v", got)
	}
	if got := rolesFromClaim(42); len(got) != 0 {
		t.Fatalf("expected no roles, got %v", got)
	}
}
