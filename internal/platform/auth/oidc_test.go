package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

type recordingOutcomes struct {
	mu      sync.Mutex
	reasons []string
}

func (r *recordingOutcomes) record(_ context.Context, _ bool, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *recordingOutcomes) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reasons) == 0 {
		return ""
	}
	return r.reasons[len(r.reasons)-1]
}

func jwksServer(t *testing.T, key *rsa.PrivateKey, kid string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: kid, Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestJWKSCacheKeyCachesKeys(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var hits atomic.Int32
	server := jwksServer(t, key, "key1", &hits)

	cache := NewJWKSCache(server.URL, WithJWKSClock(func() time.Time { return time.Unix(1_000_000, 0) }))
	for i := 0; i < 3; i++ {
		got, err := cache.Key(context.Background(), "key1")
		if err != nil {
			t.Fatalf("cache.Key: %v", err)
		}
		if _, ok := got.(*rsa.PublicKey); !ok {
			t.Fatalf("expected *rsa.PublicKey, got %T", got)
		}
	}
	if _, err := cache.Key(context.Background(), "unknown"); err == nil {
		t.Fatalf("expected unknown kid error")
	}
	if hits.Load() != 1 {
		t.Fatalf("expected single JWKS fetch, got %d", hits.Load())
	}
}

func TestMaxAge(t *testing.T) {
	if got := maxAge("public, max-age=19845, must-revalidate"); got != 19845*time.Second {
		t.Fatalf("unexpected max-age %s", got)
	}
	if got := maxAge("no-store"); got != 0 {
		t.Fatalf("expected zero, got %s", got)
	}
}

func TestRequireOIDC(t *testing.T) {
	const audience = "https://orders.sneakvault.sn/internal"
	cases := []struct {
		name   string
		mutate func(jwt.MapClaims)
		header string
		status int
		reason string
	}{
		{name: "valid", status: http.StatusNoContent, reason: "ok"},
		{name: "iap header", header: "X-Goog-Iap-Jwt-Assertion", status: http.StatusNoContent, reason: "ok"},
		{name: "audience mismatch", mutate: func(c jwt.MapClaims) { c["aud"] = "https://elsewhere" }, status: http.StatusUnauthorized, reason: "audience_mismatch"},
		{name: "issuer mismatch", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.example" }, status: http.StatusUnauthorized, reason: "issuer_mismatch"},
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = float64(time.Now().Add(-time.Hour).Unix()) }, status: http.StatusUnauthorized, reason: "token_invalid"},
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	server := jwksServer(t, key, "svc-key", nil)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcomes := &recordingOutcomes{}
			validator := NewOIDCValidator(NewJWKSCache(server.URL), WithVerificationRecorder(outcomes.record))

			claims := jwt.MapClaims{
				"aud":   []string{audience},
				"iss":   "https://accounts.google.com",
				"sub":   "scheduler",
				"email": "scheduler@sneakvault.iam.gserviceaccount.com",
				"exp":   float64(time.Now().Add(time.Hour).Unix()),
				"iat":   float64(time.Now().Unix()),
			}
			if tc.mutate != nil {
				tc.mutate(claims)
			}
			token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
			token.Header["kid"] = "svc-key"
			signed, err := token.SignedString(key)
			if err != nil {
				t.Fatalf("sign token: %v", err)
			}

			req := httptest.NewRequest(http.MethodPost, "/internal/payments/reconcile", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, signed)
			} else {
				req.Header.Set("Authorization", "Bearer "+signed)
			}
			rr := httptest.NewRecorder()
			validator.RequireOIDC(audience, []string{"https://accounts.google.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				identity, ok := ServiceIdentityFromContext(r.Context())
				if !ok || identity.Subject != "scheduler" {
					t.Fatalf("expected service identity, got %+v", identity)
				}
				w.WriteHeader(http.StatusNoContent)
			})).ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if got := outcomes.last(); got != tc.reason {
				t.Fatalf("expected reason %s, got %s", tc.reason, got)
			}
		})
	}
}

func TestRequireOIDCJWKSUnavailable(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"aud": "aud", "iss": "https://accounts.google.com", "exp": float64(time.Now().Add(time.Hour).Unix()),
	})
	token.Header["kid"] = "svc-key"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(down.Close)

	outcomes := &recordingOutcomes{}
	validator := NewOIDCValidator(NewJWKSCache(down.URL), WithVerificationRecorder(outcomes.record))

	req := httptest.NewRequest(http.MethodPost, "/internal/payments/reconcile", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	validator.RequireOIDC("aud", nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if outcomes.last() != "jwks_unavailable" {
		t.Fatalf("expected jwks_unavailable, got %s", outcomes.last())
	}
}
