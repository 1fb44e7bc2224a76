package payments

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type fakeGateway struct {
	name string
}

func (f *fakeGateway) Name() string { return f.name }

func (f *fakeGateway) CreateInvoice(context.Context, InvoiceRequest) (Invoice, error) {
	return Invoice{URL: "https://pay.example/" + f.name, Token: f.name + "_tok"}, nil
}

func (f *fakeGateway) VerifyEvent(context.Context, RawEvent) bool { return true }

func (f *fakeGateway) ParseEvent(context.Context, RawEvent) (ProviderEvent, error) {
	return ProviderEvent{}, nil
}

func (f *fakeGateway) InvoiceStatus(context.Context, string) (InvoiceStatus, error) {
	return InvoiceStatus{}, nil
}

func TestRegistrySingleGatewayIsDefault(t *testing.T) {
	paydunya := &fakeGateway{name: "PayDunya"}
	reg, err := NewRegistry([]Gateway{paydunya})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if reg.Default() != paydunya {
		t.Fatalf("expected single gateway to be default")
	}
	got, err := reg.Get(" paydunya ")
	if err != nil || got != paydunya {
		t.Fatalf("expected case-insensitive lookup, got %v err=%v", got, err)
	}
}

func TestRegistryExplicitDefault(t *testing.T) {
	paydunya := &fakeGateway{name: ProviderPayDunya}
	stripe := &fakeGateway{name: ProviderStripe}
	reg, err := NewRegistry([]Gateway{paydunya, stripe}, WithDefaultProvider("stripe"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if reg.Default() != stripe {
		t.Fatalf("expected stripe default")
	}
	if names := reg.Names(); !reflect.DeepEqual(names, []string{"paydunya", "stripe"}) {
		t.Fatalf("unexpected names %v", names)
	}
	if _, err := reg.Get("wave"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestRegistryRejectsInvalidSetup(t *testing.T) {
	cases := map[string]func() (*Registry, error){
		"empty":           func() (*Registry, error) { return NewRegistry(nil) },
		"duplicate":       func() (*Registry, error) { return NewRegistry([]Gateway{&fakeGateway{name: "a"}, &fakeGateway{name: "A"}}) },
		"ambiguous":       func() (*Registry, error) { return NewRegistry([]Gateway{&fakeGateway{name: "a"}, &fakeGateway{name: "b"}}) },
		"unknown default": func() (*Registry, error) { return NewRegistry([]Gateway{&fakeGateway{name: "a"}}, WithDefaultProvider("b")) },
	}
	for name, build := range cases {
		if _, err := build(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestNormaliseStatus(t *testing.T) {
	cases := map[string]EventStatus{
		"completed": EventStatusCompleted,
		"Canceled":  EventStatusCancelled,
		"expired":   EventStatusExpired,
		"failed":    EventStatusFailed,
		"pending":   EventStatusPending,
		"on_hold":   EventStatus("on_hold"),
	}
	for raw, want := range cases {
		if got := NormaliseStatus(raw); got != want {
			t.Fatalf("NormaliseStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}
