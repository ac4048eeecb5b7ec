package persist_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pedalhouse/engine/internal/adapters/persist"
)

func TestFileSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions")
	sink := persist.NewFileSink(dir)
	ctx := context.Background()

	p := validPayload()
	if err := sink.Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	body, err := os.ReadFile(filepath.Join(dir, "ses-1.json"))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var got persist.Payload
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if got.SessionID != p.SessionID || got.DurationMs != p.DurationMs {
		t.Errorf("snapshot = %s/%d, want %s/%d",
			got.SessionID, got.DurationMs, p.SessionID, p.DurationMs)
	}

	// A later autosave replaces the snapshot in place.
	p.DurationMs = 20_000
	if err := sink.Save(ctx, p); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	body, err = os.ReadFile(filepath.Join(dir, "ses-1.json"))
	if err != nil {
		t.Fatalf("read replaced snapshot: %v", err)
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.DurationMs != 20_000 {
		t.Errorf("durationMs = %d after overwrite, want 20000", got.DurationMs)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := sink.Save(cancelled, p); err == nil {
		t.Error("expected error saving with cancelled context")
	}
}
