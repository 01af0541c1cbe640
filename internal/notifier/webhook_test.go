package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cinderlog/cinder/internal/models"
)

func TestWebhookConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  WebhookConfig
		wantErr bool
		errMsg  string
	}{
		{
			name:    "empty config",
			config:  WebhookConfig{},
			wantErr: true,
			errMsg:  "webhook URL is required",
		},
		{
			name: "bad scheme rejected",
			config: WebhookConfig{
				URL: "ftp://hooks.example.com/alerts",
			},
			wantErr: true,
			errMsg:  "must start with http:// or https://",
		},
		{
			name: "http accepted",
			config: WebhookConfig{
				URL: "http://hooks.internal:9000/alerts",
			},
			wantErr: false,
		},
		{
			name: "https accepted",
			config: WebhookConfig{
				URL: "https://hooks.example.com/alerts",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error containing %q, got nil", tt.errMsg)
				} else if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWebhookNotifierName(t *testing.T) {
	n := &WebhookNotifier{}
	if got := n.Name(); got != "webhook" {
		t.Errorf("Name() = %q, want %q", got, "webhook")
	}
}

func TestWebhookNotifierSend(t *testing.T) {
	var received webhookPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", ct)
		}

		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("failed to unmarshal payload: %v", err)
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("NewWebhookNotifier() error = %v", err)
	}

	alert := sampleAlert(models.SeverityHigh)
	if err := n.Send(context.Background(), alert); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if received.Event != "alert.triggered" {
		t.Errorf("payload event = %q, want %q", received.Event, "alert.triggered")
	}
	if received.Alert == nil {
		t.Fatal("payload alert is nil")
	}
	if received.Alert.RuleKey != alert.RuleKey {
		t.Errorf("payload rule key = %q, want %q", received.Alert.RuleKey, alert.RuleKey)
	}
	if received.Alert.Severity != models.SeverityHigh {
		t.Errorf("payload severity = %q, want %q", received.Alert.Severity, models.SeverityHigh)
	}
	if received.SentAt.IsZero() {
		t.Error("payload sent_at is zero")
	}
}

func TestWebhookNotifierHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("internal error"))
	}))
	defer server.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("NewWebhookNotifier() error = %v", err)
	}

	err = n.Send(context.Background(), sampleAlert(models.SeverityLow))
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("error should contain status code, got %q", err.Error())
	}
}

func TestWebhookNotifierAccepts2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("NewWebhookNotifier() error = %v", err)
	}

	if err := n.Send(context.Background(), sampleAlert(models.SeverityLow)); err != nil {
		t.Errorf("Send() with 202 response error = %v", err)
	}
}

func TestWebhookNotifierContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("NewWebhookNotifier() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := n.Send(ctx, sampleAlert(models.SeverityLow)); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
