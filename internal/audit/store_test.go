package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/autominion/minion/internal/llm"
)

func TestStore_RecordAndList(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "llm.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	err = store.Record(llm.Interaction{
		Provider: "openrouter",
		Model:    "gpt-4o",
		Status:   200,
		Request:  []byte(`{"model":"gpt-4o"}`),
		Response: []byte(`{"choices":[]}`),
		Duration: 1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	e := entries[0]
	if e.Provider != "openrouter" || e.Model != "gpt-4o" || e.Status != 200 {
		t.Errorf("entry = %+v", e)
	}
	if string(e.Request) != `{"model":"gpt-4o"}` {
		t.Errorf("request body = %s", e.Request)
	}
	if e.Duration != 1500*time.Millisecond {
		t.Errorf("duration = %v", e.Duration)
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp not stored")
	}
}

func TestStore_ListEmpty(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "llm.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	entries, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0", len(entries))
	}
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm.db")

	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if err := store.Record(llm.Interaction{Provider: "groq", Model: "m", Status: 500}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	store.Close()

	store, err = OpenStore(path)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer store.Close()

	entries, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Provider != "groq" {
		t.Errorf("entries after reopen = %+v", entries)
	}
}
