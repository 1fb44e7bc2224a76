package payments

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

const testMasterKey = "master-key-test"

func testPayDunyaHash() string {
	sum := sha512.Sum512([]byte(testMasterKey))
	return hex.EncodeToString(sum[:])
}

func newTestPayDunya(t *testing.T, handler http.HandlerFunc) *PayDunyaGateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	gw, err := NewPayDunyaGateway(PayDunyaConfig{
		MasterKey:  testMasterKey,
		PrivateKey: "private",
		Token:      "token",
		Store:      PayDunyaStore{Name: "SneakVault", LogoURL: "https://sneakvault.example/logo.png"},
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("NewPayDunyaGateway: %v", err)
	}
	return gw
}

func TestPayDunyaCreateInvoice(t *testing.T) {
	var captured map[string]any
	gw := newTestPayDunya(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/checkout-invoice/create" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("PAYDUNYA-MASTER-KEY") != testMasterKey || r.Header.Get("PAYDUNYA-TOKEN") != "token" {
			t.Errorf("missing credential headers: %v", r.Header)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"response_code":"00","response_text":"https://paydunya.example/checkout/tok_123","token":"tok_123"}`))
	})

	invoice, err := gw.CreateInvoice(context.Background(), InvoiceRequest{
		Amount:      150000,
		Currency:    "XOF",
		Description: "Commande SneakVault #ord_1",
		Items:       []InvoiceItem{{Name: "Air Max 90", UnitPrice: 75000, Quantity: 2}},
		CallbackURL: "https://api.sneakvault.example/api/v1/webhooks/payments/paydunya",
		ReturnURL:   "https://sneakvault.example/order-confirmation?id=ord_1",
		CancelURL:   "https://sneakvault.example#contact",
		Metadata:    InvoiceMetadata{OrderID: "ord_1", Store: "SneakVault"},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if invoice.Token != "tok_123" || invoice.URL != "https://paydunya.example/checkout/tok_123" {
		t.Fatalf("unexpected invoice %+v", invoice)
	}

	inv := captured["invoice"].(map[string]any)
	if inv["total_amount"].(float64) != 150000 {
		t.Fatalf("unexpected total %v", inv["total_amount"])
	}
	item := inv["items"].(map[string]any)["item_0"].(map[string]any)
	if item["total_price"].(float64) != 150000 || item["quantity"].(float64) != 2 {
		t.Fatalf("unexpected item %v", item)
	}
	custom := captured["custom_data"].(map[string]any)
	if custom["order_id"] != "ord_1" || custom["store"] != "SneakVault" {
		t.Fatalf("unexpected custom data %v", custom)
	}
	actions := captured["actions"].(map[string]any)
	if actions["callback_url"] != "https://api.sneakvault.example/api/v1/webhooks/payments/paydunya" {
		t.Fatalf("unexpected actions %v", actions)
	}
}

func TestPayDunyaCreateInvoiceRejected(t *testing.T) {
	gw := newTestPayDunya(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response_code":"1001","response_text":"Invalid Masterkey"}`))
	})
	_, err := gw.CreateInvoice(context.Background(), InvoiceRequest{Amount: 1000, Metadata: InvoiceMetadata{OrderID: "ord_1"}})
	if !errors.Is(err, ErrInvoiceRejected) {
		t.Fatalf("expected ErrInvoiceRejected, got %v", err)
	}
}

func TestPayDunyaCreateInvoiceServerError(t *testing.T) {
	gw := newTestPayDunya(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	if _, err := gw.CreateInvoice(context.Background(), InvoiceRequest{Amount: 1000}); err == nil {
		t.Fatalf("expected transport error")
	}
}

func TestPayDunyaInvoiceStatus(t *testing.T) {
	gw := newTestPayDunya(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checkout-invoice/confirm/tok_123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"response_code":"00","status":"completed","custom_data":{"order_id":"ord_1"},"receipt_identifier":"RCP-9"}`))
	})
	status, err := gw.InvoiceStatus(context.Background(), "tok_123")
	if err != nil {
		t.Fatalf("InvoiceStatus: %v", err)
	}
	if status.Status != EventStatusCompleted || status.OrderID != "ord_1" || status.TransactionID != "RCP-9" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestPayDunyaVerifyEvent(t *testing.T) {
	gw := newTestPayDunya(t, func(http.ResponseWriter, *http.Request) {})
	ctx := context.Background()

	valid := RawEvent{
		Provider: ProviderPayDunya,
		Body:     []byte(`{"data":{"hash":"` + testPayDunyaHash() + `","status":"completed"}}`),
		Header:   http.Header{"Content-Type": []string{"application/json"}},
	}
	if !gw.VerifyEvent(ctx, valid) {
		t.Fatalf("expected valid hash to verify")
	}

	forged := RawEvent{
		Provider: ProviderPayDunya,
		Body:     []byte(`{"data":{"hash":"deadbeef","status":"completed"}}`),
		Header:   http.Header{"Content-Type": []string{"application/json"}},
	}
	if gw.VerifyEvent(ctx, forged) {
		t.Fatalf("expected forged hash to fail")
	}
	if gw.VerifyEvent(ctx, RawEvent{Body: []byte("{not json"), Header: http.Header{"Content-Type": []string{"application/json"}}}) {
		t.Fatalf("expected unparseable body to fail")
	}
}

func TestPayDunyaParseFormEvent(t *testing.T) {
	gw := newTestPayDunya(t, func(http.ResponseWriter, *http.Request) {})
	form := url.Values{
		"data[hash]":                     {testPayDunyaHash()},
		"data[status]":                   {"completed"},
		"data[custom_data][order_id]":    {"ord_42"},
		"data[invoice][token]":           {"tok_42"},
		"data[receipt_identifier]":       {"RCP-42"},
		"data[customer][payment_method]": {"wave-senegal"},
	}
	raw := RawEvent{
		Provider: ProviderPayDunya,
		Body:     []byte(form.Encode()),
		Header:   http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}},
	}
	if !gw.VerifyEvent(context.Background(), raw) {
		t.Fatalf("expected form event to verify")
	}
	event, err := gw.ParseEvent(context.Background(), raw)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	want := ProviderEvent{
		Status:        EventStatusCompleted,
		RawStatus:     "completed",
		OrderID:       "ord_42",
		TransactionID: "RCP-42",
		Method:        "wave-senegal",
		InvoiceToken:  "tok_42",
	}
	if event != want {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestPayDunyaParseEventRequiresOrderOnCompletion(t *testing.T) {
	gw := newTestPayDunya(t, func(http.ResponseWriter, *http.Request) {})
	raw := RawEvent{
		Body:   []byte(`{"status":"completed"}`),
		Header: http.Header{"Content-Type": []string{"application/json"}},
	}
	if _, err := gw.ParseEvent(context.Background(), raw); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}
}

func TestNewPayDunyaGatewayRequiresCredentials(t *testing.T) {
	if _, err := NewPayDunyaGateway(PayDunyaConfig{MasterKey: "m"}); err == nil {
		t.Fatalf("expected error for missing credentials")
	}
}
