package processor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/cache"
	"github.com/nextlevelbuilder/inboxd/internal/dedupe"
	"github.com/nextlevelbuilder/inboxd/internal/errreport"
	"github.com/nextlevelbuilder/inboxd/internal/responder"
	"github.com/nextlevelbuilder/inboxd/internal/sequencer"
	"github.com/nextlevelbuilder/inboxd/internal/store"
	"github.com/nextlevelbuilder/inboxd/internal/store/sqlite"
)

type delivery struct {
	channel, recipient, text string
}

type recordingDeliverer struct {
	mu         sync.Mutex
	deliveries []delivery
	reads      []string
	reactions  []string
}

func (d *recordingDeliverer) Deliver(ctx context.Context, channel, recipient, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, delivery{channel, recipient, text})
	return nil
}

func (d *recordingDeliverer) MarkRead(env bus.Envelope) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads = append(d.reads, env.ExternalID)
}

func (d *recordingDeliverer) React(env bus.Envelope, emoji string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reactions = append(d.reactions, env.ExternalID+":"+emoji)
}

func (d *recordingDeliverer) snapshot() []delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]delivery(nil), d.deliveries...)
}

type harness struct {
	p         *Processor
	stores    *store.Stores
	cache     *cache.Cache
	deliverer *recordingDeliverer
	calls     atomic.Int64 // responder invocations
}

// newHarness wires a processor over a fresh sqlite database. respond may be nil
// for an echo responder.
func newHarness(t *testing.T, cfg Config, respond responder.Func) *harness {
	t.Helper()

	stores, err := sqlite.NewSQLiteStores(store.StoreConfig{SQLitePath: filepath.Join(t.TempDir(), "inboxd.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStores: %v", err)
	}
	t.Cleanup(func() { stores.Close() })

	h := &harness{
		stores:    stores,
		cache:     cache.New(time.Minute),
		deliverer: &recordingDeliverer{},
	}
	if respond == nil {
		respond = func(ctx context.Context, env bus.Envelope, rc responder.Context) (string, error) {
			return "re:" + env.ContentRef, nil
		}
	}
	counted := responder.Func(func(ctx context.Context, env bus.Envelope, rc responder.Context) (string, error) {
		h.calls.Add(1)
		return respond(ctx, env, rc)
	})

	filter := dedupe.NewFilter(bus.NewDedupeCache(5*time.Minute, 5000), stores.Messages)
	reporter := errreport.New(stores.Errors, h.deliverer, "")
	reporter.SetMessageResolver(FailureMessageResolver(h.cache, stores.Configs))

	pipeline := NewPipeline(PipelineDeps{
		Cache:       h.cache,
		Configs:     stores.Configs,
		Messages:    stores.Messages,
		Responder:   counted,
		Deliverer:   h.deliverer,
		AckReaction: "👀",
	})
	h.p = New(filter, sequencer.New(), reporter, pipeline, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.p.Close(ctx)
	})
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func (h *harness) conversation(t *testing.T, key string) []store.MessageRow {
	t.Helper()
	rows, err := h.stores.Messages.ListConversation(context.Background(), key, 100)
	if err != nil {
		t.Fatalf("ListConversation: %v", err)
	}
	return rows
}

func envelope(id, sender, content string) bus.Envelope {
	return bus.Envelope{
		ExternalID:       id,
		Channel:          "whatsapp",
		TenantChannelID:  "t1",
		SenderAddress:    sender,
		RecipientAddress: "+200",
		Type:             bus.TypeText,
		ContentRef:       content,
		ArrivalTime:      time.Now(),
	}
}

func TestSubmit_ConcurrentDuplicateRunsOnce(t *testing.T) {
	h := newHarness(t, Config{}, func(ctx context.Context, env bus.Envelope, rc responder.Context) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return "ok", nil
	})

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.p.Submit(envelope("m1", "+100", "hello"))
		}()
	}
	wg.Wait()
	h.wait(t)

	if got := h.calls.Load(); got != 1 {
		t.Errorf("responder calls = %d, want 1", got)
	}
	rows := h.conversation(t, "t1:+100")
	inbound := 0
	for _, r := range rows {
		if r.Direction == store.DirectionInbound {
			inbound++
		}
	}
	if inbound != 1 {
		t.Errorf("inbound rows = %d, want 1", inbound)
	}
	st := h.p.Stats()
	if st.Submitted != 2 || st.Duplicates != 1 || st.Processed != 1 {
		t.Errorf("stats = %+v, want submitted=2 duplicates=1 processed=1", st)
	}
}

func TestSubmit_RedeliveryAfterSettleCaughtByStore(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	h.p.Submit(envelope("m1", "+100", "hello"))
	h.wait(t)
	if h.p.filter.Seen("m1") {
		t.Fatal("marker still live after settle")
	}

	h.p.Submit(envelope("m1", "+100", "hello"))
	h.wait(t)

	if got := h.calls.Load(); got != 1 {
		t.Errorf("responder calls = %d, want 1", got)
	}
	if got := h.p.Stats().Duplicates; got != 1 {
		t.Errorf("duplicates = %d, want 1", got)
	}
	if got := len(h.conversation(t, "t1:+100")); got != 2 {
		t.Errorf("rows = %d, want 2 (message + reply)", got)
	}
}

func TestSubmit_PreservesConversationOrder(t *testing.T) {
	h := newHarness(t, Config{}, func(ctx context.Context, env bus.Envelope, rc responder.Context) (string, error) {
		if env.ExternalID == "A" {
			time.Sleep(50 * time.Millisecond)
		}
		return "re:" + env.ContentRef, nil
	})

	h.p.Submit(envelope("A", "+100", "first"))
	h.p.Submit(envelope("B", "+100", "second"))
	h.wait(t)

	rows := h.conversation(t, "t1:+100")
	var got []string
	for _, r := range rows {
		got = append(got, r.Direction+":"+r.Content)
	}
	want := []string{
		"inbound:first",
		"outbound:re:first",
		"inbound:second",
		"outbound:re:second",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("rows = %v, want %v", got, want)
	}

	d := h.deliverer.snapshot()
	if len(d) != 2 || d[0].text != "re:first" || d[1].text != "re:second" {
		t.Errorf("deliveries = %+v, want re:first then re:second", d)
	}
}

func TestSubmit_HistoryExcludesCurrentMessage(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	h := newHarness(t, Config{}, func(ctx context.Context, env bus.Envelope, rc responder.Context) (string, error) {
		mu.Lock()
		seen[env.ExternalID] = len(rc.History)
		mu.Unlock()
		return "ok", nil
	})

	h.p.Submit(envelope("A", "+100", "first"))
	h.p.Submit(envelope("B", "+100", "second"))
	h.wait(t)

	mu.Lock()
	defer mu.Unlock()
	if seen["A"] != 0 || seen["B"] != 2 {
		t.Errorf("history sizes = %v, want A=0 B=2", seen)
	}
}

func TestSubmit_DistinctConversationsOverlap(t *testing.T) {
	started := make(chan string, 2)
	release := make(chan struct{})
	h := newHarness(t, Config{}, func(ctx context.Context, env bus.Envelope, rc responder.Context) (string, error) {
		started <- env.ExternalID
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return "ok", nil
	})

	h.p.Submit(envelope("a1", "+100", "x"))
	h.p.Submit(envelope("b1", "+300", "y"))

	for range 2 {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("distinct conversations did not run concurrently")
		}
	}
	if got := h.p.Stats().ActiveConversations; got != 2 {
		t.Errorf("active conversations = %d, want 2", got)
	}
	close(release)
	h.wait(t)
}

func TestSubmitFunc_FailureIsRecordedAndRetryable(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	boom := func(ctx context.Context, env bus.Envelope) error {
		return fmt.Errorf("respond: %w", errors.New("provider down"))
	}
	ctx := context.Background()

	h.p.SubmitFunc(envelope("m2", "+100", "hello"), boom)
	h.wait(t)

	if h.p.filter.Seen("m2") {
		t.Error("marker not cleared after failure")
	}
	rec, err := h.stores.Errors.GetError(ctx, "m2")
	if err != nil {
		t.Fatalf("GetError: %v", err)
	}
	if rec.RetryCount != 0 {
		t.Errorf("retry_count = %d, want 0", rec.RetryCount)
	}
	if !strings.Contains(rec.Message, "provider down") {
		t.Errorf("message = %q, want it to mention the cause", rec.Message)
	}

	d := h.deliverer.snapshot()
	if len(d) != 1 || d[0].recipient != "+100" || d[0].text != errreport.DefaultFailureMessage {
		t.Errorf("deliveries = %+v, want one default failure notice to +100", d)
	}

	h.p.SubmitFunc(envelope("m2", "+100", "hello"), boom)
	h.wait(t)

	rec, err = h.stores.Errors.GetError(ctx, "m2")
	if err != nil {
		t.Fatalf("GetError: %v", err)
	}
	if rec.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", rec.RetryCount)
	}
	if got := h.p.Stats().Errors; got != 2 {
		t.Errorf("errors = %d, want 2", got)
	}
}

func TestSubmitFunc_PanicIsReported(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	h.p.SubmitFunc(envelope("m3", "+100", "hello"), func(ctx context.Context, env bus.Envelope) error {
		panic("nil map")
	})
	h.wait(t)

	rec, err := h.stores.Errors.GetError(context.Background(), "m3")
	if err != nil {
		t.Fatalf("GetError: %v", err)
	}
	if !strings.Contains(rec.Message, "panicked") {
		t.Errorf("message = %q, want panic description", rec.Message)
	}
	if h.p.filter.Processing() != 0 {
		t.Errorf("processing = %d, want 0", h.p.filter.Processing())
	}

	// The conversation is still usable.
	h.p.Submit(envelope("m4", "+100", "again"))
	h.wait(t)
	if got := h.calls.Load(); got != 1 {
		t.Errorf("responder calls = %d, want 1", got)
	}
}

func TestSubmitFunc_StoreDuplicateIsNotAnError(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	h.p.SubmitFunc(envelope("m5", "+100", "hello"), func(ctx context.Context, env bus.Envelope) error {
		return fmt.Errorf("persist inbound: %w", store.ErrDuplicateExternalID)
	})
	h.wait(t)

	st := h.p.Stats()
	if st.Errors != 0 || st.Duplicates != 1 {
		t.Errorf("stats = %+v, want errors=0 duplicates=1", st)
	}
	if _, err := h.stores.Errors.GetError(context.Background(), "m5"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetError err = %v, want ErrNotFound", err)
	}
}

func TestSubmitFunc_TaskTimeoutIsRecorded(t *testing.T) {
	h := newHarness(t, Config{TaskTimeout: 20 * time.Millisecond}, nil)

	h.p.SubmitFunc(envelope("m6", "+100", "hello"), func(ctx context.Context, env bus.Envelope) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h.wait(t)

	rec, err := h.stores.Errors.GetError(context.Background(), "m6")
	if err != nil {
		t.Fatalf("GetError: %v", err)
	}
	if !strings.Contains(rec.Message, "deadline") {
		t.Errorf("message = %q, want deadline exceeded", rec.Message)
	}
}

func TestSubmit_InvalidEnvelopesDropped(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	h.p.Submit(envelope("", "+100", "no id"))
	h.p.SubmitFunc(envelope("m7", "+100", "no pipeline"), nil)
	h.wait(t)

	if got := h.p.Stats().Submitted; got != 0 {
		t.Errorf("submitted = %d, want 0", got)
	}
}

func TestClose_StopsAccepting(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	h.p.Submit(envelope("m8", "+100", "before"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	h.p.Submit(envelope("m9", "+100", "after"))

	if got := h.calls.Load(); got != 1 {
		t.Errorf("responder calls = %d, want 1", got)
	}
	if got := len(h.conversation(t, "t1:+100")); got != 2 {
		t.Errorf("rows = %d, want 2", got)
	}
}

func TestPipeline_DisabledChannelStaysSilent(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	if err := h.stores.Configs.UpsertChannelConfig(ctx, &store.ChannelConfig{
		ID:          "t1",
		ChannelType: "whatsapp",
		Enabled:     false,
	}); err != nil {
		t.Fatalf("UpsertChannelConfig: %v", err)
	}

	h.p.Submit(envelope("m10", "+100", "hello"))
	h.wait(t)

	if got := h.calls.Load(); got != 0 {
		t.Errorf("responder calls = %d, want 0", got)
	}
	rows := h.conversation(t, "t1:+100")
	if len(rows) != 1 || rows[0].Direction != store.DirectionInbound {
		t.Errorf("rows = %+v, want the inbound message only", rows)
	}
	h.deliverer.mu.Lock()
	defer h.deliverer.mu.Unlock()
	if len(h.deliverer.reads) != 1 || len(h.deliverer.reactions) != 1 {
		t.Errorf("reads=%v reactions=%v, want one of each", h.deliverer.reads, h.deliverer.reactions)
	}
}

func TestPipeline_TenantFailureMessage(t *testing.T) {
	h := newHarness(t, Config{}, func(ctx context.Context, env bus.Envelope, rc responder.Context) (string, error) {
		return "", errors.New("provider down")
	})
	ctx := context.Background()
	if err := h.stores.Configs.UpsertTenant(ctx, &store.Tenant{ID: "acme", Name: "Acme", FailureMessage: "Sorry, try again later."}); err != nil {
		t.Fatalf("UpsertTenant: %v", err)
	}
	if err := h.stores.Configs.UpsertChannelConfig(ctx, &store.ChannelConfig{
		ID:          "t1",
		TenantID:    "acme",
		ChannelType: "whatsapp",
		Enabled:     true,
	}); err != nil {
		t.Fatalf("UpsertChannelConfig: %v", err)
	}

	h.p.Submit(envelope("m11", "+100", "hello"))
	h.wait(t)

	d := h.deliverer.snapshot()
	if len(d) != 1 || d[0].text != "Sorry, try again later." {
		t.Errorf("deliveries = %+v, want tenant failure message", d)
	}
}

func TestPipeline_EmptyReplySuppressed(t *testing.T) {
	h := newHarness(t, Config{}, func(ctx context.Context, env bus.Envelope, rc responder.Context) (string, error) {
		return "   ", nil
	})

	h.p.Submit(envelope("m12", "+100", "hello"))
	h.wait(t)

	if d := h.deliverer.snapshot(); len(d) != 0 {
		t.Errorf("deliveries = %+v, want none", d)
	}
	if got := len(h.conversation(t, "t1:+100")); got != 1 {
		t.Errorf("rows = %d, want 1", got)
	}
}

func TestSubmit_RacingCloseReleasesMarker(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	// The sequencer closes between the processor's closed check and the enqueue.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.p.seq.Close(ctx); err != nil {
		t.Fatalf("sequencer Close: %v", err)
	}
	h.p.Submit(envelope("m10", "+100", "late"))

	if got := h.calls.Load(); got != 0 {
		t.Errorf("responder calls = %d, want 0", got)
	}
	if got := h.p.Stats().Processing; got != 0 {
		t.Errorf("Processing = %d, want 0 (marker released)", got)
	}
}
