package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileSink writes the payload as one JSON document per session. Each
// autosave overwrites the previous snapshot, so the newest state wins
// and a crash loses at most one autosave interval.
type FileSink struct {
	dir string
}

// NewFileSink creates a sink rooted at dir; the directory is created on
// first save.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Save writes the payload atomically: temp file then rename.
func (f *FileSink) Save(ctx context.Context, p *Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	body, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	final := filepath.Join(f.dir, p.SessionID+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("commit payload: %w", err)
	}
	return nil
}
