package twiliosms

import (
	"context"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "+15551234567", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.SentMessages))
	}

	if mock.SentMessages[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", mock.SentMessages[0].Body)
	}
}

func TestMockClient_FailNext(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()
	mock.FailNext = true

	if err := mock.SendMessage(ctx, "+15551234567", "boom"); err == nil {
		t.Fatal("expected error from FailNext")
	}
	if err := mock.SendMessage(ctx, "+15551234567", "ok"); err != nil {
		t.Fatalf("unexpected error after FailNext reset: %v", err)
	}
	if len(mock.SentMessages) != 1 {
		t.Errorf("expected 1 recorded message, got %d", len(mock.SentMessages))
	}
}

func TestNewClient_MissingCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Fatal("expected error without from number")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromNumber("+15550000000")); err != nil {
		t.Fatalf("unexpected error with full credentials: %v", err)
	}
}
