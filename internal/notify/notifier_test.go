package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestWebhookTicketAlert(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Fatalf("Content-Type 不正确: %s", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, testLogger())
	alert := TicketAlert{TicketID: "42", Condition: "price_below", Message: "price dropped"}

	if err := n.SendTicketAlert(context.Background(), alert, []string{"ops"}, "high"); err != nil {
		t.Fatalf("SendTicketAlert 应成功: %v", err)
	}

	if received["type"] != "ticket_alert" {
		t.Fatalf("type 不正确: %#v", received)
	}
	if received["priority"] != "high" {
		t.Fatalf("priority 不正确: %#v", received)
	}
	inner, ok := received["alert"].(map[string]any)
	if !ok || inner["ticket_id"] != "42" {
		t.Fatalf("alert 负载不正确: %#v", received["alert"])
	}
}

func TestWebhookSystemNotification(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, testLogger())
	err := n.SendSystemNotification(context.Background(), "purchase completed", "success", nil, map[string]any{"purchase_id": "p1"})
	if err != nil {
		t.Fatalf("SendSystemNotification 应成功: %v", err)
	}

	if received["severity"] != "success" {
		t.Fatalf("severity 不正确: %#v", received)
	}
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, testLogger())
	if err := n.SendTicketAlert(context.Background(), TicketAlert{TicketID: "42"}, nil, "high"); err == nil {
		t.Fatal("HTTP 502 应返回错误")
	}
}
