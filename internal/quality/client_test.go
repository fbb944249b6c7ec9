package quality

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetSackQuality_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/api/quality/SCK-001" {
			t.Fatalf("path = %s, want /api/quality/SCK-001", r.URL.Path)
		}

		resp := SackQuality{
			Sack:   "SCK-001",
			Status: "ASSESSED",
			Parameters: map[string]string{
				"moisture_pct": "12.5",
				"grade":        "A",
			},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, code, retry, err := client.GetSackQuality(ctx, "SCK-001")
	if err != nil {
		t.Fatalf("GetSackQuality error: %v", err)
	}
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", code, http.StatusOK)
	}
	if retry != 0 {
		t.Fatalf("retryAfter = %v, want 0", retry)
	}
	if res == nil || res.Sack != "SCK-001" || res.Status != "ASSESSED" {
		t.Fatalf("unexpected response: %+v", res)
	}
	if res.Parameters["moisture_pct"] != "12.5" {
		t.Fatalf("unexpected parameters: %+v", res.Parameters)
	}
}

func TestGetSackQuality_TooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, code, retry, err := client.GetSackQuality(ctx, "SCK-001")
	if err != nil {
		t.Fatalf("GetSackQuality error: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil response for 429, got %+v", res)
	}
	if code != http.StatusTooManyRequests {
		t.Fatalf("status code = %d, want %d", code, http.StatusTooManyRequests)
	}
	if retry < 5*time.Second {
		t.Fatalf("retryAfter = %v, want at least 5s", retry)
	}
}

func TestGetSackQuality_NoContent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	res, code, _, err := client.GetSackQuality(context.Background(), "SCK-404")
	if err != nil {
		t.Fatalf("GetSackQuality error: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil response for 204, got %+v", res)
	}
	if code != http.StatusNoContent {
		t.Fatalf("status code = %d, want %d", code, http.StatusNoContent)
	}
}

func TestGetSackQuality_NotConfigured(t *testing.T) {
	var client *Client

	if _, _, _, err := client.GetSackQuality(context.Background(), "SCK-001"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
