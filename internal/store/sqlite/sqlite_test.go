package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/inboxd/internal/store"
)

func openTestStores(t *testing.T) *store.Stores {
	t.Helper()
	stores, err := NewSQLiteStores(store.StoreConfig{SQLitePath: filepath.Join(t.TempDir(), "inboxd.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStores: %v", err)
	}
	t.Cleanup(func() { stores.Close() })
	return stores
}

func TestInsertMessage_DuplicateExternalID(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	row := &store.MessageRow{
		ExternalID:      "m1",
		Channel:         "whatsapp",
		TenantChannelID: "t1",
		ConversationKey: "t1:+100",
		Direction:       store.DirectionInbound,
		Sender:          "+100",
		Recipient:       "+200",
		Type:            "text",
		Content:         "hello",
	}
	if _, err := stores.Messages.InsertMessage(ctx, row); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	dup := *row
	dup.ID = ""
	if _, err := stores.Messages.InsertMessage(ctx, &dup); !errors.Is(err, store.ErrDuplicateExternalID) {
		t.Errorf("second insert err = %v, want ErrDuplicateExternalID", err)
	}

	exists, err := stores.Messages.ExistsExternalID(ctx, "m1")
	if err != nil || !exists {
		t.Errorf("ExistsExternalID(m1) = (%v, %v), want (true, nil)", exists, err)
	}
	exists, _ = stores.Messages.ExistsExternalID(ctx, "m2")
	if exists {
		t.Error("ExistsExternalID(m2) = true, want false")
	}
}

func TestInsertMessage_RepliesHaveNoExternalID(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := stores.Messages.InsertMessage(ctx, &store.MessageRow{
			ReplyTo:         "m1",
			Channel:         "whatsapp",
			TenantChannelID: "t1",
			ConversationKey: "t1:+100",
			Direction:       store.DirectionOutbound,
			Sender:          "+200",
			Recipient:       "+100",
			Content:         "reply",
		})
		if err != nil {
			t.Fatalf("insert reply %d: %v", i, err)
		}
	}
}

func TestListConversation_OrderAndLimit(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	for _, content := range []string{"a", "b", "c", "d"} {
		stores.Messages.InsertMessage(ctx, &store.MessageRow{
			ExternalID:      "id-" + content,
			Channel:         "whatsapp",
			TenantChannelID: "t1",
			ConversationKey: "t1:+100",
			Direction:       store.DirectionInbound,
			Sender:          "+100",
			Recipient:       "+200",
			Content:         content,
		})
	}
	stores.Messages.InsertMessage(ctx, &store.MessageRow{
		ExternalID:      "other",
		ConversationKey: "t1:+999",
		Direction:       store.DirectionInbound,
		Content:         "x",
	})

	rows, err := stores.Messages.ListConversation(ctx, "t1:+100", 3)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, r := range rows {
		got = append(got, r.Content)
	}
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("ListConversation = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ListConversation = %v, want %v", got, want)
		}
	}
}

func TestUpsertError_IncrementsRetryCount(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	if err := stores.Errors.UpsertError(ctx, "m1", "first failure", "detail 1"); err != nil {
		t.Fatal(err)
	}
	rec, err := stores.Errors.GetError(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.RetryCount != 0 {
		t.Errorf("RetryCount after insert = %d, want 0", rec.RetryCount)
	}

	stores.Errors.UpsertError(ctx, "m1", "second failure", "detail 2")
	rec, _ = stores.Errors.GetError(ctx, "m1")
	if rec.RetryCount != 1 {
		t.Errorf("RetryCount after conflict = %d, want 1", rec.RetryCount)
	}
	if rec.Message != "second failure" {
		t.Errorf("Message = %q, want %q", rec.Message, "second failure")
	}

	if _, err := stores.Errors.GetError(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetError(nope) err = %v, want ErrNotFound", err)
	}
}

func TestPurgeErrorsBefore(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	stores.Errors.UpsertError(ctx, "m1", "x", "")
	n, err := stores.Errors.PurgeErrorsBefore(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Errorf("purge old = (%d, %v), want (0, nil)", n, err)
	}
	n, err = stores.Errors.PurgeErrorsBefore(ctx, time.Now().Add(time.Hour))
	if err != nil || n != 1 {
		t.Errorf("purge all = (%d, %v), want (1, nil)", n, err)
	}
	list, _ := stores.Errors.ListErrors(ctx, 10)
	if len(list) != 0 {
		t.Errorf("ListErrors after purge = %d records, want 0", len(list))
	}
}

func TestConfigStore_RoundTrip(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	if err := stores.Configs.UpsertTenant(ctx, &store.Tenant{ID: "acme", Name: "Acme", FailureMessage: "Sorry!"}); err != nil {
		t.Fatal(err)
	}
	cfg := &store.ChannelConfig{
		ID:           "t1",
		TenantID:     "acme",
		ChannelType:  "whatsapp",
		SystemPrompt: "be brief",
		AllowFrom:    []string{"+100", "+101"},
		Enabled:      true,
	}
	if err := stores.Configs.UpsertChannelConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	got, err := stores.Configs.GetChannelConfig(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TenantID != "acme" || got.SystemPrompt != "be brief" || !got.Enabled || len(got.AllowFrom) != 2 {
		t.Errorf("GetChannelConfig = %+v", got)
	}

	tenant, err := stores.Configs.GetTenant(ctx, "acme")
	if err != nil || tenant.FailureMessage != "Sorry!" {
		t.Errorf("GetTenant = (%+v, %v)", tenant, err)
	}

	if _, err := stores.Configs.GetChannelConfig(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetChannelConfig(missing) err = %v, want ErrNotFound", err)
	}

	list, err := stores.Configs.ListChannelConfigs(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("ListChannelConfigs = (%d, %v), want (1, nil)", len(list), err)
	}
}
