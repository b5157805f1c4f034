package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/channels"
	"github.com/nextlevelbuilder/inboxd/internal/channels/webhook"
	"github.com/nextlevelbuilder/inboxd/internal/config"
	"github.com/nextlevelbuilder/inboxd/pkg/protocol"
)

func TestServer_EndToEnd(t *testing.T) {
	mb := bus.New()
	mgr := channels.NewManager(channels.ManagerConfig{})
	ch := webhook.New(channels.Instance{Name: "shop", TenantChannelID: "tc-1"}, mb)
	mgr.RegisterChannel("shop", ch)
	if err := mgr.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	srv := NewServer(config.GatewayConfig{RateLimitRPM: 60}, Deps{
		Channels: mgr,
		Events:   mb,
		Stats: func() protocol.StatsSnapshot {
			return protocol.StatsSnapshot{Version: "test", Protocol: protocol.ProtocolVersion}
		},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	}()

	base := fmt.Sprintf("http://%s", ln.Addr())

	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Post(base+"/v1/webhook/shop", "application/json",
		strings.NewReader(`{"id":"42","from":"cust","content":"hello"}`))
	if err != nil {
		t.Fatalf("POST webhook: %v", err)
	}
	var ack protocol.WebhookAck
	json.NewDecoder(resp.Body).Decode(&ack)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted || !ack.Accepted {
		t.Fatalf("webhook = %d %+v, want 202 accepted", resp.StatusCode, ack)
	}

	consumeCtx, consumeCancel := context.WithTimeout(context.Background(), time.Second)
	defer consumeCancel()
	env, ok := mb.ConsumeInbound(consumeCtx)
	if !ok || env.ExternalID != "wh:shop:42" {
		t.Errorf("consumed = %+v, %v", env, ok)
	}

	resp, err = http.Get(base + "/v1/stats")
	if err != nil {
		t.Fatalf("GET /v1/stats: %v", err)
	}
	var snap protocol.StatsSnapshot
	json.NewDecoder(resp.Body).Decode(&snap)
	resp.Body.Close()
	if snap.Version != "test" {
		t.Errorf("stats = %+v", snap)
	}
}
