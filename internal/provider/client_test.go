package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestServices_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("action") != "services" {
			t.Fatalf("action = %s, want services", r.Form.Get("action"))
		}
		if r.Form.Get("key") != "secret" {
			t.Fatalf("key = %s, want secret", r.Form.Get("key"))
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"service": 1, "name": "Likes", "category": "Instagram", "rate": "0.50", "min": 100, "max": 10000},
			{"service": 2, "name": "Views", "category": "YouTube", "rate": "2", "min": 1000, "max": 100000},
			{"service": 3, "name": "Broken", "category": "X", "rate": "oops", "min": 1, "max": 2}
		]`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "secret", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	items, err := client.Services(ctx)
	if err != nil {
		t.Fatalf("Services error: %v", err)
	}

	// Услуга с нечитаемым тарифом пропускается.
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].ServiceID != 1 || items[0].Rate != 50 {
		t.Fatalf("item 1 = %+v, want service 1 rate 50", items[0])
	}
	if items[1].Rate != 200 {
		t.Fatalf("item 2 rate = %d, want 200", items[1].Rate)
	}
}

func TestAddOrder_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("action") != "add" {
			t.Fatalf("action = %s, want add", r.Form.Get("action"))
		}
		if r.Form.Get("service") != "1" || r.Form.Get("quantity") != "2000" {
			t.Fatalf("unexpected form: %v", r.Form)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"order": 23501}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "secret", time.Second)

	id, err := client.AddOrder(context.Background(), 1, "https://example.com/p/1", 2000)
	if err != nil {
		t.Fatalf("AddOrder error: %v", err)
	}
	if id != "23501" {
		t.Fatalf("order id = %s, want 23501", id)
	}
}

func TestAddOrder_ProviderError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error": "not enough funds"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "secret", time.Second)

	if _, err := client.AddOrder(context.Background(), 1, "link", 100); err == nil {
		t.Fatalf("expected error from provider")
	}
}

func TestAddOrder_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "secret", 50*time.Millisecond)

	if _, err := client.AddOrder(context.Background(), 1, "link", 100); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestStatus_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("order") != "23501" {
			t.Fatalf("order = %s, want 23501", r.Form.Get("order"))
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "Completed", "remains": "0", "start_count": "100", "charge": "2.00"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "secret", time.Second)

	st, err := client.Status(context.Background(), "23501")
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if st.Status != "Completed" {
		t.Fatalf("status = %s, want Completed", st.Status)
	}
}

func TestNotConfigured(t *testing.T) {
	client := NewClient("", "", time.Second)

	if client.Configured() {
		t.Fatalf("empty client must not be configured")
	}
	if _, err := client.Services(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := client.AddOrder(context.Background(), 1, "link", 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
