package messaging

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/ObjectivePipe/internal/models"
	"github.com/BTreeMap/ObjectivePipe/internal/twiliosms"
)

func TestValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewTwilioService(twiliosms.NewMockClient())

	tests := []struct {
		name      string
		recipient string
		want      string
		wantErr   bool
	}{
		{"plain digits", "15551234567", "15551234567", false},
		{"e164", "+1 (555) 123-4567", "15551234567", false},
		{"too short", "123", "", true},
		{"empty", "", "", true},
		{"no digits", "abc", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ValidateAndCanonicalizeRecipient(tt.recipient)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.recipient)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSendMessageEmitsReceipt(t *testing.T) {
	mock := twiliosms.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "+15551234567", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].To != "15551234567" {
		t.Fatalf("unexpected sent messages: %+v", mock.SentMessages)
	}

	select {
	case receipt := <-svc.Receipts():
		if receipt.Status != models.MessageStatusSent {
			t.Errorf("expected status sent, got %q", receipt.Status)
		}
		if receipt.To != "15551234567" {
			t.Errorf("expected canonical recipient, got %q", receipt.To)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for receipt")
	}
}

func TestSendMessageAfterStop(t *testing.T) {
	svc := NewTwilioService(twiliosms.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+15551234567", "hello"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestTwilioWebhookHandler(t *testing.T) {
	svc := NewTwilioService(twiliosms.NewMockClient())

	form := url.Values{}
	form.Set("From", "+15551234567")
	form.Set("Body", "my name is Tim")
	req := httptest.NewRequest("POST", "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	svc.TwilioWebhookHandler(w, req)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	select {
	case resp := <-svc.Responses():
		if resp.From != "+15551234567" || resp.Body != "my name is Tim" {
			t.Errorf("unexpected response: %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestTwilioWebhookHandlerMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliosms.NewMockClient())

	form := url.Values{}
	form.Set("From", "+15551234567")
	req := httptest.NewRequest("POST", "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	svc.TwilioWebhookHandler(w, req)
	if w.Code != 400 {
		t.Errorf("expected 400 for missing body, got %d", w.Code)
	}
}
