package storage

import (
	"testing"
	"time"

	"ragos/model"
)

func strPtr(s string) *string { return &s }

func sampleConversations() []model.ConversationSummary {
	return []model.ConversationSummary{
		{
			ConversationID: "c1",
			Title:          strPtr("Optimizers"),
			CreatedAt:      time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
			UpdatedAt:      time.Date(2025, 5, 3, 10, 0, 0, 0, time.UTC),
		},
		{
			ConversationID:     "c2",
			LastMessagePreview: strPtr("what about momentum"),
			CreatedAt:          time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC),
			UpdatedAt:          time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC),
		},
	}
}

func newTestCache(t *testing.T) *ConversationCache {
	t.Helper()
	cache, err := NewConversationCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewConversationCache() error = %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestConversationCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)

	if !cache.Stale() {
		t.Error("empty cache should be stale")
	}

	if err := cache.ReplaceAll(sampleConversations()); err != nil {
		t.Fatalf("ReplaceAll() error = %v", err)
	}
	if cache.Stale() {
		t.Error("cache stale right after ReplaceAll")
	}

	got, err := cache.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d conversations, want 2", len(got))
	}
	// Most recently updated first.
	if got[0].ConversationID != "c1" || got[1].ConversationID != "c2" {
		t.Errorf("order = %s, %s; want c1, c2", got[0].ConversationID, got[1].ConversationID)
	}
	if got[0].Title == nil || *got[0].Title != "Optimizers" {
		t.Errorf("c1 title = %v", got[0].Title)
	}
	if got[1].Title != nil {
		t.Errorf("c2 title = %v, want nil", got[1].Title)
	}
	if got[1].LastMessagePreview == nil || *got[1].LastMessagePreview != "what about momentum" {
		t.Errorf("c2 preview = %v", got[1].LastMessagePreview)
	}
}

func TestConversationCacheReplaceDropsOld(t *testing.T) {
	cache := newTestCache(t)

	if err := cache.ReplaceAll(sampleConversations()); err != nil {
		t.Fatalf("ReplaceAll() error = %v", err)
	}
	replacement := []model.ConversationSummary{
		{
			ConversationID: "c3",
			Title:          strPtr("Fresh"),
			CreatedAt:      time.Now().UTC(),
			UpdatedAt:      time.Now().UTC(),
		},
	}
	if err := cache.ReplaceAll(replacement); err != nil {
		t.Fatalf("ReplaceAll() error = %v", err)
	}

	got, err := cache.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 || got[0].ConversationID != "c3" {
		t.Errorf("list after replace = %+v", got)
	}
}

func TestConversationCacheInvalidate(t *testing.T) {
	cache := newTestCache(t)

	if err := cache.ReplaceAll(sampleConversations()); err != nil {
		t.Fatalf("ReplaceAll() error = %v", err)
	}
	if err := cache.Invalidate(); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if !cache.Stale() {
		t.Error("cache not stale after Invalidate")
	}

	// Invalidation keeps the cached rows available for offline display.
	got, err := cache.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d conversations after invalidate, want 2", len(got))
	}
}

func TestCurrentConversationMarker(t *testing.T) {
	dir := t.TempDir()

	if got := LoadCurrentConversationID(dir); got != "" {
		t.Errorf("LoadCurrentConversationID() = %q on empty dir, want \"\"", got)
	}

	if err := SaveCurrentConversationID(dir, "conv-42"); err != nil {
		t.Fatalf("SaveCurrentConversationID() error = %v", err)
	}
	if got := LoadCurrentConversationID(dir); got != "conv-42" {
		t.Errorf("LoadCurrentConversationID() = %q, want conv-42", got)
	}

	if err := ClearCurrentConversationID(dir); err != nil {
		t.Fatalf("ClearCurrentConversationID() error = %v", err)
	}
	if got := LoadCurrentConversationID(dir); got != "" {
		t.Errorf("LoadCurrentConversationID() = %q after clear, want \"\"", got)
	}
	// Clearing twice is fine.
	if err := ClearCurrentConversationID(dir); err != nil {
		t.Errorf("second ClearCurrentConversationID() error = %v", err)
	}
}
