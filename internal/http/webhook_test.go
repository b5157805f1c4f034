package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/channels"
	"github.com/nextlevelbuilder/inboxd/internal/channels/webhook"
	"github.com/nextlevelbuilder/inboxd/pkg/protocol"
)

type lookupFunc func(name string) (channels.Channel, bool)

func (f lookupFunc) GetChannel(name string) (channels.Channel, bool) { return f(name) }

func newWebhookMux(t *testing.T, token string, limiter *channels.WebhookRateLimiter) (*http.ServeMux, *bus.MessageBus) {
	t.Helper()
	mb := bus.New()
	ch := webhook.New(channels.Instance{Name: "shop", TenantChannelID: "tc-shop", AllowFrom: []string{"cust-1"}}, mb)
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	lookup := lookupFunc(func(name string) (channels.Channel, bool) {
		if name == "shop" {
			return ch, true
		}
		return nil, false
	})
	mux := http.NewServeMux()
	NewWebhookHandler(lookup, token, limiter, 256).RegisterRoutes(mux)
	return mux, mb
}

func postWebhook(mux http.Handler, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.7:5555"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) protocol.WebhookAck {
	t.Helper()
	var ack protocol.WebhookAck
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack %q: %v", rec.Body.String(), err)
	}
	return ack
}

func TestWebhook_Accepted(t *testing.T) {
	mux, mb := newWebhookMux(t, "", nil)

	rec := postWebhook(mux, "/v1/webhook/shop", "",
		`{"id":"m1","from":"cust-1","content":"where is my order?","timestamp":1700000000}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if ack := decodeAck(t, rec); !ack.Accepted {
		t.Fatalf("ack = %+v, want accepted", ack)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no envelope published")
	}
	if env.ExternalID != "wh:shop:m1" || env.Channel != "shop" || env.TenantChannelID != "tc-shop" {
		t.Errorf("envelope = %+v", env)
	}
	if !env.ArrivalTime.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("ArrivalTime = %v", env.ArrivalTime)
	}
}

func TestWebhook_MatchingTenantChannelAccepted(t *testing.T) {
	mux, mb := newWebhookMux(t, "", nil)

	rec := postWebhook(mux, "/v1/webhook/shop", "",
		`{"id":"m2","tenant_channel_id":"tc-shop","from":"cust-1","content":"hi"}`)
	if ack := decodeAck(t, rec); !ack.Accepted {
		t.Fatalf("ack = %+v, want accepted", ack)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no envelope published")
	}
	if env.TenantChannelID != "tc-shop" {
		t.Errorf("TenantChannelID = %q, want %q", env.TenantChannelID, "tc-shop")
	}
}

func TestWebhook_NotAccepted(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantReason string
	}{
		{"malformed json", `{"id":`, "invalid body"},
		{"body too large", `{"id":"m1","from":"cust-1","content":"` + strings.Repeat("x", 300) + `"}`, "invalid body"},
		{"missing id", `{"from":"cust-1","content":"hi"}`, "missing id"},
		{"missing from", `{"id":"m1","content":"hi"}`, "missing from"},
		{"missing content", `{"id":"m1","from":"cust-1"}`, "missing content"},
		{"sender not allowed", `{"id":"m1","from":"stranger","content":"hi"}`, "rejected"},
		{"other tenant channel", `{"id":"m1","tenant_channel_id":"tc-other","from":"cust-1","content":"hi"}`, "tenant_channel_id mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, _ := newWebhookMux(t, "", nil)
			rec := postWebhook(mux, "/v1/webhook/shop", "", tt.body)
			if rec.Code != http.StatusAccepted {
				t.Fatalf("status = %d, want 202", rec.Code)
			}
			ack := decodeAck(t, rec)
			if ack.Accepted || ack.Reason != tt.wantReason {
				t.Errorf("ack = %+v, want reason %q", ack, tt.wantReason)
			}
		})
	}
}

func TestWebhook_Guards(t *testing.T) {
	body := `{"id":"m1","from":"cust-1","content":"hi"}`

	t.Run("token required", func(t *testing.T) {
		mux, _ := newWebhookMux(t, "s3cret", nil)
		if rec := postWebhook(mux, "/v1/webhook/shop", "", body); rec.Code != http.StatusUnauthorized {
			t.Errorf("status without token = %d, want 401", rec.Code)
		}
		if rec := postWebhook(mux, "/v1/webhook/shop", "s3cret", body); rec.Code != http.StatusAccepted {
			t.Errorf("status with token = %d, want 202", rec.Code)
		}
	})

	t.Run("unknown channel", func(t *testing.T) {
		mux, _ := newWebhookMux(t, "", nil)
		if rec := postWebhook(mux, "/v1/webhook/nope", "", body); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		mux, _ := newWebhookMux(t, "", channels.NewWebhookRateLimiter(1))
		if rec := postWebhook(mux, "/v1/webhook/shop", "", body); rec.Code != http.StatusAccepted {
			t.Fatalf("first status = %d, want 202", rec.Code)
		}
		if rec := postWebhook(mux, "/v1/webhook/shop", "", body); rec.Code != http.StatusTooManyRequests {
			t.Errorf("second status = %d, want 429", rec.Code)
		}
	})
}
