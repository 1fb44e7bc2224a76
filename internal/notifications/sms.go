package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultCountryCode = "+221"
	defaultSMSTimeout  = 10 * time.Second
)

// SMSSender delivers text messages.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, text string) error
}

// HTTPSMSConfig configures a bearer-authenticated JSON SMS API such as Orange SMS.
type HTTPSMSConfig struct {
	Endpoint    string
	APIKey      string
	Sender      string
	CountryCode string
	HTTPClient  *http.Client
}

// HTTPSMSSender posts {recipient, message, sender} to the configured endpoint.
type HTTPSMSSender struct {
	endpoint    string
	apiKey      string
	sender      string
	countryCode string
	client      *http.Client
}

// NewHTTPSMSSender validates the SMS API configuration.
func NewHTTPSMSSender(cfg HTTPSMSConfig) (*HTTPSMSSender, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("sms: endpoint is required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("sms: api key is required")
	}
	code := strings.TrimSpace(cfg.CountryCode)
	if code == "" {
		code = defaultCountryCode
	}
	if !strings.HasPrefix(code, "+") {
		code = "+" + code
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultSMSTimeout}
	}
	return &HTTPSMSSender{
		endpoint:    endpoint,
		apiKey:      apiKey,
		sender:      strings.TrimSpace(cfg.Sender),
		countryCode: code,
		client:      client,
	}, nil
}

// SendSMS sends text to phone after normalising it to international format.
func (s *HTTPSMSSender) SendSMS(ctx context.Context, phone, text string) error {
	recipient := normalisePhone(phone, s.countryCode)
	if recipient == "" {
		return errors.New("sms: recipient phone is empty")
	}
	payload, err := json.Marshal(map[string]string{
		"recipient": recipient,
		"message":   text,
		"sender":    s.sender,
	})
	if err != nil {
		return fmt.Errorf("sms: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sms: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms: send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms: provider responded %d", resp.StatusCode)
	}
	return nil
}

// normalisePhone strips separators and prefixes local numbers with the country code.
func normalisePhone(phone, countryCode string) string {
	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
	switch {
	case compact == "":
		return ""
	case strings.HasPrefix(compact, "+"):
		return compact
	case strings.HasPrefix(compact, "00"):
		return "+" + strings.TrimPrefix(compact, "00")
	case strings.HasPrefix(compact, strings.TrimPrefix(countryCode, "+")) && len(compact) > 9:
		return "+" + compact
	default:
		return countryCode + compact
	}
}
