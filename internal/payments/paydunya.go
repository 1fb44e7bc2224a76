package payments

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sneakvault/orders/internal/platform/textutil"
)

const (
	payDunyaLiveBaseURL    = "https://app.paydunya.com/api/v1"
	payDunyaSandboxBaseURL = "https://app.paydunya.com/sandbox-api/v1"
	payDunyaSuccessCode    = "00"
	payDunyaHTTPTimeout    = 15 * time.Second
	payDunyaMaxResponse    = 1 << 20
	payDunyaItemNameLimit  = 100
)

// PayDunyaStore is the merchant block shown on the hosted checkout page.
type PayDunyaStore struct {
	Name          string
	Tagline       string
	Phone         string
	PostalAddress string
	WebsiteURL    string
	LogoURL       string
}

// PayDunyaConfig configures the PayDunya gateway.
type PayDunyaConfig struct {
	MasterKey  string
	PrivateKey string
	Token      string
	// Mode is "live" or "test"; anything else is treated as test.
	Mode       string
	Store      PayDunyaStore
	BaseURL    string
	HTTPClient *http.Client
	Logger     Logger
}

// PayDunyaGateway talks to the PayDunya checkout-invoice REST API.
type PayDunyaGateway struct {
	baseURL      string
	masterKey    string
	privateKey   string
	token        string
	expectedHash string
	store        PayDunyaStore
	client       *http.Client
	logger       Logger
}

var _ Gateway = (*PayDunyaGateway)(nil)

// NewPayDunyaGateway validates credentials and builds the gateway.
func NewPayDunyaGateway(cfg PayDunyaConfig) (*PayDunyaGateway, error) {
	masterKey := strings.TrimSpace(cfg.MasterKey)
	privateKey := strings.TrimSpace(cfg.PrivateKey)
	token := strings.TrimSpace(cfg.Token)
	if masterKey == "" || privateKey == "" || token == "" {
		return nil, errors.New("paydunya: master key, private key and token are required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = payDunyaSandboxBaseURL
		if strings.EqualFold(strings.TrimSpace(cfg.Mode), "live") {
			baseURL = payDunyaLiveBaseURL
		}
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: payDunyaHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}
	sum := sha512.Sum512([]byte(masterKey))

	return &PayDunyaGateway{
		baseURL:      baseURL,
		masterKey:    masterKey,
		privateKey:   privateKey,
		token:        token,
		expectedHash: hex.EncodeToString(sum[:]),
		store:        cfg.Store,
		client:       client,
		logger:       logger,
	}, nil
}

func (g *PayDunyaGateway) Name() string { return ProviderPayDunya }

type payDunyaInvoiceItem struct {
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	TotalPrice  int64  `json:"total_price"`
	Description string `json:"description,omitempty"`
}

type payDunyaCreateRequest struct {
	Invoice struct {
		Items       map[string]payDunyaInvoiceItem `json:"items,omitempty"`
		TotalAmount int64                          `json:"total_amount"`
		Description string                         `json:"description"`
	} `json:"invoice"`
	Store struct {
		Name          string `json:"name"`
		Tagline       string `json:"tagline,omitempty"`
		Phone         string `json:"phone,omitempty"`
		PostalAddress string `json:"postal_address,omitempty"`
		WebsiteURL    string `json:"website_url,omitempty"`
		LogoURL       string `json:"logo_url,omitempty"`
	} `json:"store"`
	CustomData map[string]string `json:"custom_data,omitempty"`
	Actions    struct {
		CancelURL   string `json:"cancel_url,omitempty"`
		ReturnURL   string `json:"return_url,omitempty"`
		CallbackURL string `json:"callback_url,omitempty"`
	} `json:"actions"`
}

type payDunyaCreateResponse struct {
	ResponseCode string `json:"response_code"`
	ResponseText string `json:"response_text"`
	Description  string `json:"description"`
	Token        string `json:"token"`
}

// CreateInvoice creates a checkout invoice. PayDunya returns the hosted page URL in response_text.
func (g *PayDunyaGateway) CreateInvoice(ctx context.Context, req InvoiceRequest) (Invoice, error) {
	if req.Amount <= 0 {
		return Invoice{}, fmt.Errorf("paydunya: invoice amount must be positive, got %d", req.Amount)
	}

	var body payDunyaCreateRequest
	body.Invoice.TotalAmount = req.Amount
	body.Invoice.Description = req.Description
	if len(req.Items) > 0 {
		body.Invoice.Items = make(map[string]payDunyaInvoiceItem, len(req.Items))
		for i, item := range req.Items {
			body.Invoice.Items["item_"+strconv.Itoa(i)] = payDunyaInvoiceItem{
				Name:        textutil.Truncate(item.Name, payDunyaItemNameLimit),
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
				TotalPrice:  item.UnitPrice * int64(item.Quantity),
				Description: item.Description,
			}
		}
	}
	body.Store.Name = g.store.Name
	body.Store.Tagline = g.store.Tagline
	body.Store.Phone = g.store.Phone
	body.Store.PostalAddress = g.store.PostalAddress
	body.Store.WebsiteURL = g.store.WebsiteURL
	body.Store.LogoURL = g.store.LogoURL
	body.CustomData = req.Metadata.Values()
	body.Actions.CallbackURL = req.CallbackURL
	body.Actions.ReturnURL = req.ReturnURL
	body.Actions.CancelURL = req.CancelURL

	var resp payDunyaCreateResponse
	if err := g.do(ctx, http.MethodPost, "/checkout-invoice/create", body, &resp); err != nil {
		return Invoice{}, err
	}
	if resp.ResponseCode != payDunyaSuccessCode || resp.Token == "" {
		return Invoice{}, fmt.Errorf("%w: paydunya code %s: %s", ErrInvoiceRejected, resp.ResponseCode, resp.ResponseText)
	}

	g.logger(ctx, "payments.paydunya.invoice.created", map[string]any{
		"orderId": req.Metadata.OrderID,
		"token":   resp.Token,
		"amount":  req.Amount,
	})
	return Invoice{URL: resp.ResponseText, Token: resp.Token}, nil
}

type payDunyaConfirmResponse struct {
	ResponseCode string         `json:"response_code"`
	ResponseText string         `json:"response_text"`
	Status       string         `json:"status"`
	CustomData   map[string]any `json:"custom_data"`
	Receipt      string         `json:"receipt_identifier"`
	Transaction  string         `json:"transaction_id"`
	Method       string         `json:"payment_method"`
}

// InvoiceStatus confirms the invoice identified by token.
func (g *PayDunyaGateway) InvoiceStatus(ctx context.Context, token string) (InvoiceStatus, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return InvoiceStatus{}, errors.New("paydunya: invoice token is required")
	}
	var resp payDunyaConfirmResponse
	if err := g.do(ctx, http.MethodGet, "/checkout-invoice/confirm/"+url.PathEscape(token), nil, &resp); err != nil {
		return InvoiceStatus{}, err
	}
	if resp.ResponseCode != payDunyaSuccessCode {
		return InvoiceStatus{}, fmt.Errorf("%w: paydunya code %s: %s", ErrInvoiceRejected, resp.ResponseCode, resp.ResponseText)
	}
	transaction := resp.Transaction
	if transaction == "" {
		transaction = resp.Receipt
	}
	return InvoiceStatus{
		Status:        NormaliseStatus(resp.Status),
		RawStatus:     resp.Status,
		OrderID:       stringField(resp.CustomData, "order_id"),
		TransactionID: transaction,
		Method:        resp.Method,
	}, nil
}

// VerifyEvent checks the IPN hash, which PayDunya sets to SHA-512 of the merchant master key.
func (g *PayDunyaGateway) VerifyEvent(_ context.Context, raw RawEvent) bool {
	payload, err := decodePayDunyaIPN(raw)
	if err != nil {
		return false
	}
	hash := strings.ToLower(strings.TrimSpace(stringField(payload, "hash")))
	if hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(hash), []byte(g.expectedHash)) == 1
}

// ParseEvent extracts the reconciliation fields from a JSON or form-encoded IPN.
func (g *PayDunyaGateway) ParseEvent(_ context.Context, raw RawEvent) (ProviderEvent, error) {
	payload, err := decodePayDunyaIPN(raw)
	if err != nil {
		return ProviderEvent{}, err
	}
	status := stringField(payload, "status")
	customData, _ := payload["custom_data"].(map[string]any)
	invoice, _ := payload["invoice"].(map[string]any)

	transaction := stringField(payload, "transaction_id")
	if transaction == "" {
		transaction = stringField(payload, "receipt_identifier")
	}
	method := stringField(payload, "payment_method")
	if method == "" {
		if customer, ok := payload["customer"].(map[string]any); ok {
			method = stringField(customer, "payment_method")
		}
	}
	event := ProviderEvent{
		Status:        NormaliseStatus(status),
		RawStatus:     status,
		OrderID:       stringField(customData, "order_id"),
		TransactionID: transaction,
		Method:        method,
		InvoiceToken:  stringField(invoice, "token"),
	}
	if event.OrderID == "" && event.Status == EventStatusCompleted {
		return ProviderEvent{}, fmt.Errorf("%w: custom_data.order_id missing", ErrMalformedEvent)
	}
	return event, nil
}

func (g *PayDunyaGateway) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("paydunya: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("paydunya: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("PAYDUNYA-MASTER-KEY", g.masterKey)
	req.Header.Set("PAYDUNYA-PRIVATE-KEY", g.privateKey)
	req.Header.Set("PAYDUNYA-TOKEN", g.token)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("paydunya: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, payDunyaMaxResponse))
	if err != nil {
		return fmt.Errorf("paydunya: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("paydunya: %s %s: status %d", method, path, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("paydunya: decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}

// decodePayDunyaIPN returns the IPN object, unwrapping the "data" envelope when present.
func decodePayDunyaIPN(raw RawEvent) (map[string]any, error) {
	if len(bytes.TrimSpace(raw.Body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedEvent)
	}
	mediaType, _, _ := mime.ParseMediaType(raw.Header.Get("Content-Type"))

	var payload map[string]any
	switch {
	case mediaType == "application/x-www-form-urlencoded",
		mediaType == "" && !bytes.HasPrefix(bytes.TrimSpace(raw.Body), []byte("{")):
		values, err := url.ParseQuery(string(raw.Body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		payload = nestFormValues(values)
	default:
		if err := json.Unmarshal(raw.Body, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
	}
	if data, ok := payload["data"].(map[string]any); ok {
		return data, nil
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedEvent)
	}
	return payload, nil
}

// nestFormValues turns PHP-style keys such as data[custom_data][order_id] into nested maps.
func nestFormValues(values url.Values) map[string]any {
	root := make(map[string]any)
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		path := splitBracketKey(key)
		node := root
		for i, segment := range path {
			if i == len(path)-1 {
				node[segment] = vals[0]
				break
			}
			child, ok := node[segment].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[segment] = child
			}
			node = child
		}
	}
	return root
}

func splitBracketKey(key string) []string {
	head, rest, found := strings.Cut(key, "[")
	if !found {
		return []string{key}
	}
	parts := []string{head}
	for _, segment := range strings.Split(strings.TrimSuffix(rest, "]"), "][") {
		parts = append(parts, segment)
	}
	return parts
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
