package historicalstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestBatchWriterFlushesOnceFull(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewBatchWriter[string](dir, 2)
	if err != nil {
		t.Fatalf("NewBatchWriter: %v", err)
	}

	if err := w.Add("a"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if w.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1", w.PendingCount())
	}
	if err := w.Add("b"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if w.PendingCount() != 0 {
		t.Fatalf("PendingCount after flush = %d, want 0", w.PendingCount())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "batch_000000.json" {
		t.Fatalf("unexpected dir contents: %v", entries)
	}

	data, err := os.ReadFile(filepath.Join(dir, "batch_000000.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var b batch[string]
	if err := json.Unmarshal(data, &b); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if b.Count != 2 || len(b.Items) != 2 {
		t.Errorf("unexpected batch: %+v", b)
	}
}

func TestBatchWriterFlushWritesPartialBatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewBatchWriter[string](dir, 10)
	if err != nil {
		t.Fatalf("NewBatchWriter: %v", err)
	}
	w.Add("only-one")

	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected one batch file, got %d", len(entries))
	}

	// A second Flush with nothing pending must not create another file.
	if err := w.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	entries, _ = os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected still one batch file, got %d", len(entries))
	}
}

func TestBatchWriterResumesNumberingAcrossRestarts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w1, err := NewBatchWriter[string](dir, 1)
	if err != nil {
		t.Fatalf("NewBatchWriter: %v", err)
	}
	w1.Add("first")
	w1.Add("second")

	w2, err := NewBatchWriter[string](dir, 1)
	if err != nil {
		t.Fatalf("NewBatchWriter (resume): %v", err)
	}
	w2.Add("third")

	entries, _ := os.ReadDir(dir)
	if len(entries) != 3 {
		t.Fatalf("expected 3 batch files, got %d: %v", len(entries), entries)
	}
	if _, err := os.Stat(filepath.Join(dir, "batch_000002.json")); err != nil {
		t.Errorf("expected batch_000002.json to exist, numbering should resume: %v", err)
	}
}
