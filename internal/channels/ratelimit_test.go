package channels

import (
	"fmt"
	"testing"
	"time"
)

func TestWebhookRateLimiter_PerKey(t *testing.T) {
	rl := NewWebhookRateLimiter(2)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if !rl.Allow("a") {
			t.Fatalf("Allow(a) #%d = false, want true", i+1)
		}
	}
	if rl.Allow("a") {
		t.Error("Allow(a) over burst = true, want false")
	}
	if !rl.Allow("b") {
		t.Error("Allow(b) = false, keys must not share a bucket")
	}

	// 2/min refills one token every 30s.
	now = now.Add(31 * time.Second)
	if !rl.Allow("a") {
		t.Error("Allow(a) after refill = false, want true")
	}
}

func TestWebhookRateLimiter_Disabled(t *testing.T) {
	rl := NewWebhookRateLimiter(0)
	for i := 0; i < 1000; i++ {
		if !rl.Allow("a") {
			t.Fatalf("Allow() #%d = false with limiting disabled", i)
		}
	}
	if rl.Len() != 0 {
		t.Errorf("Len() = %d, want 0 when disabled", rl.Len())
	}
}

func TestWebhookRateLimiter_BoundedKeys(t *testing.T) {
	rl := NewWebhookRateLimiter(60)
	for i := 0; i < maxTrackedKeys+100; i++ {
		rl.Allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	if got := rl.Len(); got > maxTrackedKeys {
		t.Errorf("Len() = %d, want <= %d", got, maxTrackedKeys)
	}
}
