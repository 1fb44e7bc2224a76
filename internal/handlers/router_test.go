package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/sneakvault/orders/internal/domain"
	"github.com/sneakvault/orders/internal/platform/auth"
	"github.com/sneakvault/orders/internal/services"
)

func TestNewRouterHealthEndpoints(t *testing.T) {
	start := handlerNow.Add(-90 * time.Second)
	storeDown := errors.New("firestore unavailable")
	healthy := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.4.0", Environment: "prod", StartedAt: start}),
		WithHealthClock(func() time.Time { return handlerNow }),
		WithHealthCheck("store", func(context.Context) error { return nil }),
	)
	router := NewRouter(WithHealthHandlers(healthy))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ok" || body["version"] != "1.4.0" || body["uptime"] != "1m30s" {
		t.Fatalf("unexpected healthz body %v", body)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", rr.Code)
	}

	failing := NewHealthHandlers(WithHealthCheck("store", func(context.Context) error { return storeDown }))
	router = NewRouter(WithHealthHandlers(failing))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	checks, _ := decodeBody(t, rr)["checks"].(map[string]any)
	store, _ := checks["store"].(map[string]any)
	if store["error"] != storeDown.Error() {
		t.Fatalf("unexpected checks %v", checks)
	}
}

func TestNewRouterUnmountedGroups(t *testing.T) {
	router := NewRouter()
	for _, path := range []string{"/api/v1/orders", "/api/v1/admin/orders", "/internal/payments/reconcile"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s: expected 501, got %d", path, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound || decodeBody(t, rr)["error"] != errorNotFoundCode {
		t.Fatalf("expected route_not_found, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestInternalReconcileRequiresGroupMiddleware(t *testing.T) {
	sweeper := &stubSweeper{report: services.SweepReport{Checked: 3, Applied: 1, StillPending: 1, Errors: 1}}
	requireToken := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer scheduler" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	router := NewRouter(
		WithInternalRoutes(NewInternalPaymentHandlers(sweeper).Routes),
		WithInternalMiddlewares(requireToken),
	)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/payments/reconcile", nil))
	if rr.Code != http.StatusUnauthorized || sweeper.calls != 0 {
		t.Fatalf("expected unauthenticated call to be rejected, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/internal/payments/reconcile", nil)
	req.Header.Set("Authorization", "Bearer scheduler")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["checked"] != float64(3) || body["applied"] != float64(1) || body["errors"] != float64(1) {
		t.Fatalf("unexpected report %v", body)
	}

	sweeper.err = services.ErrStore
	req = httptest.NewRequest(http.MethodPost, "/internal/payments/reconcile", nil)
	req.Header.Set("Authorization", "Bearer scheduler")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on store failure, got %d", rr.Code)
	}
}

func TestPaymentStatusEndpoint(t *testing.T) {
	handlers := NewPaymentStatusHandlers(PaymentsInfo{
		Configured:      true,
		Store:           "SneakVault",
		DefaultProvider: "paydunya",
		Providers:       []string{"paydunya", "stripe"},
	})
	router := NewRouter(WithPaymentRoutes(handlers.Routes))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/payments/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	providers, _ := body["providers"].([]any)
	if body["configured"] != true || body["mode"] != "test" || body["store"] != "SneakVault" || len(providers) != 2 {
		t.Fatalf("unexpected status %v", body)
	}

	router = NewRouter(WithPaymentRoutes(NewPaymentStatusHandlers(PaymentsInfo{Configured: true}).Routes))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/payments/status", nil))
	if decodeBody(t, rr)["configured"] != false {
		t.Fatalf("no providers means not configured")
	}
}

type stubVerifier struct {
	tokens map[string]*firebaseauth.Token
}

func (s stubVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	if token, ok := s.tokens[idToken]; ok {
		return token, nil
	}
	return nil, errors.New("invalid token")
}

func TestAdminOrdersRequireStaffRole(t *testing.T) {
	var got services.OrderListFilter
	lifecycle := &stubLifecycle{listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
		got = filter
		return domain.CursorPage[services.Order]{
			Items:         []services.Order{airMaxOrder(domain.OrderStatusPaid)},
			NextPageToken: "next-1",
		}, nil
	}}
	verifier := stubVerifier{tokens: map[string]*firebaseauth.Token{
		"staff-token":    {UID: "ops-1", Claims: map[string]any{"role": "staff"}},
		"customer-token": {UID: "cust-1", Claims: map[string]any{}},
	}}
	admin := NewAdminOrderHandlers(auth.NewAuthenticator(verifier), lifecycle)
	router := NewRouter(WithAdminRoutes(admin.Routes))

	call := func(token, query string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders"+query, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	if rr := call("", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if rr := call("customer-token", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without staff role, got %d", rr.Code)
	}

	rr := call("staff-token", "?status=paid,awaiting_payment&status=paid&payment_method=online_gateway&page_size=25&page_token=abc")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(got.Status) != 2 || got.Status[0] != domain.OrderStatusPaid || got.Status[1] != domain.OrderStatusAwaitingPayment {
		t.Fatalf("unexpected status filter %v", got.Status)
	}
	if got.PaymentMethod != domain.PaymentMethodOnlineGateway || got.Pagination.PageSize != 25 || got.Pagination.PageToken != "abc" {
		t.Fatalf("unexpected filter %+v", got)
	}
	body := decodeBody(t, rr)
	items, _ := body["items"].([]any)
	if len(items) != 1 || body["next_page_token"] != "next-1" {
		t.Fatalf("unexpected listing %v", body)
	}

	if rr := call("staff-token", "?page_size=many"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad page size, got %d", rr.Code)
	}
}

func TestRateLimitByClient(t *testing.T) {
	now := handlerNow
	limited := RateLimitByClient(2, time.Minute, func() time.Time { return now })(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	hit := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader("{}"))
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		limited.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := hit("41.82.10.1:5000"); rr.Code != http.StatusNoContent {
			t.Fatalf("hit %d: expected pass, got %d", i, rr.Code)
		}
	}
	rr := hit("41.82.10.1:5001")
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected 429 with Retry-After, got %d %q", rr.Code, rr.Header().Get("Retry-After"))
	}
	if rr := hit("41.82.10.2:5000"); rr.Code != http.StatusNoContent {
		t.Fatalf("other clients must not be limited, got %d", rr.Code)
	}

	now = now.Add(time.Minute)
	if rr := hit("41.82.10.1:5000"); rr.Code != http.StatusNoContent {
		t.Fatalf("window must reset, got %d", rr.Code)
	}
}
