package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingLoader returns "v<n>" where n is the number of calls so far.
func countingLoader(calls *atomic.Int32) Loader {
	return func(ctx context.Context) (any, error) {
		n := calls.Add(1)
		return "v" + string(rune('0'+n)), nil
	}
}

func TestGetOrLoad_LoadsOnceWithinTTL(t *testing.T) {
	clock := newFakeClock()
	c := New(time.Minute, WithClock(clock.Now))

	var calls atomic.Int32
	loader := countingLoader(&calls)

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad(context.Background(), "channel_config", "t1", loader)
		if err != nil {
			t.Fatalf("GetOrLoad #%d: %v", i, err)
		}
		if v != "v1" {
			t.Errorf("GetOrLoad #%d = %v, want v1", i, v)
		}
		clock.Advance(10 * time.Second)
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("loader calls = %d, want 1", got)
	}
	st := c.Stats()
	if st.Hits != 2 || st.Misses != 1 || st.Errors != 0 || st.LiveKeyCount != 1 {
		t.Errorf("Stats() = %+v, want hits=2 misses=1 errors=0 live=1", st)
	}
}

func TestGetOrLoad_ReloadsAfterTTL(t *testing.T) {
	clock := newFakeClock()
	c := New(time.Minute, WithClock(clock.Now))

	var calls atomic.Int32
	loader := countingLoader(&calls)

	c.GetOrLoad(context.Background(), "ns", "k", loader)
	clock.Advance(61 * time.Second)

	v, err := c.GetOrLoad(context.Background(), "ns", "k", loader)
	if err != nil {
		t.Fatal(err)
	}
	if v != "v2" {
		t.Errorf("value after ttl = %v, want v2", v)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("loader calls = %d, want 2", got)
	}
}

func TestGetOrLoad_NeverReturnsExpiredEntry(t *testing.T) {
	clock := newFakeClock()
	c := New(time.Minute, WithClock(clock.Now))

	c.GetOrLoad(context.Background(), "ns", "k", func(ctx context.Context) (any, error) { return "old", nil })
	clock.Advance(time.Minute + time.Nanosecond)

	v, _ := c.GetOrLoad(context.Background(), "ns", "k", func(ctx context.Context) (any, error) { return "new", nil })
	if v != "new" {
		t.Errorf("GetOrLoad = %v, want new", v)
	}
}

func TestInvalidate_ForcesReload(t *testing.T) {
	c := New(time.Hour)

	var calls atomic.Int32
	loader := countingLoader(&calls)

	c.GetOrLoad(context.Background(), "ns", "k", loader)
	c.Invalidate("ns", "k")
	v, _ := c.GetOrLoad(context.Background(), "ns", "k", loader)

	if v != "v2" {
		t.Errorf("value after Invalidate = %v, want v2", v)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("loader calls = %d, want 2", got)
	}
}

func TestInvalidateNamespace(t *testing.T) {
	c := New(time.Hour)
	ctx := context.Background()
	val := func(v string) Loader {
		return func(ctx context.Context) (any, error) { return v, nil }
	}

	c.GetOrLoad(ctx, "tenant", "a", val("a1"))
	c.GetOrLoad(ctx, "tenant", "b", val("b1"))
	c.GetOrLoad(ctx, "channel_config", "a", val("c1"))

	c.InvalidateNamespace("tenant")

	if got, _ := c.GetOrLoad(ctx, "tenant", "a", val("a2")); got != "a2" {
		t.Errorf("tenant/a = %v, want a2", got)
	}
	if got, _ := c.GetOrLoad(ctx, "channel_config", "a", val("c2")); got != "c1" {
		t.Errorf("channel_config/a = %v, want c1 (other namespace untouched)", got)
	}
}

func TestGetOrLoad_ErrorNotCached(t *testing.T) {
	c := New(time.Hour)
	boom := errors.New("db down")

	var calls atomic.Int32
	failing := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, boom
	}

	if _, err := c.GetOrLoad(context.Background(), "ns", "k", failing); !errors.Is(err, boom) {
		t.Fatalf("GetOrLoad err = %v, want %v", err, boom)
	}
	if st := c.Stats(); st.Errors != 1 || st.LiveKeyCount != 0 {
		t.Errorf("Stats() = %+v, want errors=1 live=0", st)
	}

	v, err := c.GetOrLoad(context.Background(), "ns", "k", func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Errorf("retry GetOrLoad = (%v, %v), want (ok, nil)", v, err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("loader calls = %d, want 2", got)
	}
}

func TestGetOrLoad_ConcurrentMissesShareLoader(t *testing.T) {
	c := New(time.Hour)

	var calls atomic.Int32
	release := make(chan struct{})
	loader := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.GetOrLoad(context.Background(), "ns", "k", loader)
		}(i)
	}

	// Give the goroutines a moment to pile up on the in-flight load.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("loader calls = %d, want 1", got)
	}
	for i, r := range results {
		if r != "shared" {
			t.Errorf("results[%d] = %v, want shared", i, r)
		}
	}
}

func TestInvalidate_DuringLoadDoesNotStoreStaleValue(t *testing.T) {
	c := New(time.Hour)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.GetOrLoad(context.Background(), "ns", "k", func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return "stale", nil
		})
	}()

	<-started
	c.Invalidate("ns", "k")
	close(release)
	<-done

	v, _ := c.GetOrLoad(context.Background(), "ns", "k", func(ctx context.Context) (any, error) {
		return "fresh", nil
	})
	if v != "fresh" {
		t.Errorf("GetOrLoad = %v, want fresh", v)
	}
}

func TestSweep_RemovesExpired(t *testing.T) {
	clock := newFakeClock()
	c := New(time.Minute, WithClock(clock.Now), WithNamespaceTTL("long", time.Hour))
	ctx := context.Background()
	val := func(ctx context.Context) (any, error) { return 1, nil }

	c.GetOrLoad(ctx, "short", "a", val)
	c.GetOrLoad(ctx, "short", "b", val)
	c.GetOrLoad(ctx, "long", "c", val)
	clock.Advance(2 * time.Minute)

	if got := c.Sweep(); got != 2 {
		t.Errorf("Sweep() = %d, want 2", got)
	}
	if got := c.Stats().LiveKeyCount; got != 1 {
		t.Errorf("LiveKeyCount = %d, want 1", got)
	}
}

func TestLoad_Typed(t *testing.T) {
	type channelConfig struct{ Prompt string }
	c := New(time.Hour)

	cfg, err := Load(context.Background(), c, "channel_config", "t1", func(ctx context.Context) (*channelConfig, error) {
		return &channelConfig{Prompt: "be brief"}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Prompt != "be brief" {
		t.Errorf("Prompt = %q, want %q", cfg.Prompt, "be brief")
	}

	// Same entry read as the wrong type reports an error instead of panicking.
	if _, err := Load(context.Background(), c, "channel_config", "t1", func(ctx context.Context) (string, error) {
		return "", nil
	}); err == nil {
		t.Error("Load with mismatched type: err = nil, want error")
	}
}
