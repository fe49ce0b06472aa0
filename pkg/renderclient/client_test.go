package renderclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
)

func TestTriggerSendsPayloadWithSecret(t *testing.T) {
	var got TriggerRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "shared-secret", time.Second)
	err := client.Trigger(context.Background(), TriggerRequest{
		VideoID:     "job-1",
		UserID:      "acct-1",
		Prompt:      "show the bottle",
		ProductName: "Glow Serum",
		VideoStyle:  "ugc",
	})
	if err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}
	if got.VideoID != "job-1" || got.UserID != "acct-1" || got.ProductName != "Glow Serum" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if got.WebhookSecret != "shared-secret" {
		t.Fatalf("expected callback secret in payload, got %q", got.WebhookSecret)
	}
}

func TestTriggerReportsUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewClient(server.URL, "s", time.Second).Trigger(context.Background(), TriggerRequest{VideoID: "job-1"})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestTriggerWithoutURL(t *testing.T) {
	err := NewClient("", "s", 0).Trigger(context.Background(), TriggerRequest{VideoID: "job-1"})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}
