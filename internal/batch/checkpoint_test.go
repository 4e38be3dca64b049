package batch

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckpoint_FreshWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	cp, err := LoadCheckpoint(path, []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cp.ProcessedCount() != 0 {
		t.Errorf("expected empty checkpoint, got %d processed", cp.ProcessedCount())
	}
	if got := cp.Pending(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("pending = %v", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("loading should not create the file")
	}
}

func TestCheckpoint_RecordPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cp.json")
	questions := []string{"a", "b", "c"}

	cp, err := LoadCheckpoint(path, questions)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if added, err := cp.Record(Result{Index: 2, Question: "c", Status: StatusSuccess}); !added || err != nil {
		t.Fatalf("record: added=%v err=%v", added, err)
	}

	reloaded, err := LoadCheckpoint(path, questions)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.RunID != cp.RunID {
		t.Errorf("run id changed across reload")
	}
	if !reloaded.IsProcessed(2) || reloaded.IsProcessed(0) {
		t.Errorf("processed set not restored: %v", reloaded.Processed)
	}
	if got := reloaded.Pending(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("pending = %v", got)
	}
	if snap := reloaded.Snapshot(); len(snap) != 1 || snap[0].Question != "c" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestCheckpoint_RecordTwiceIsNoOp(t *testing.T) {
	cp, err := LoadCheckpoint("", []string{"a"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if added, _ := cp.Record(Result{Index: 0, Answer: "first"}); !added {
		t.Fatal("first record should be added")
	}
	if added, _ := cp.Record(Result{Index: 0, Answer: "second"}); added {
		t.Fatal("second record should be ignored")
	}
	snap := cp.Snapshot()
	if len(snap) != 1 || snap[0].Answer != "first" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestCheckpoint_RecordOutOfRange(t *testing.T) {
	cp, err := LoadCheckpoint("", []string{"a"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := cp.Record(Result{Index: 1}); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestCheckpoint_DifferentQuestionsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	cp, err := LoadCheckpoint(path, []string{"a", "b"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cp.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := LoadCheckpoint(path, []string{"a", "x"}); err == nil {
		t.Fatal("expected mismatch error")
	}
	// Surrounding whitespace does not change the identity of a question list.
	if _, err := LoadCheckpoint(path, []string{" a", "b "}); err != nil {
		t.Fatalf("expected whitespace-insensitive match, got %v", err)
	}
}

func TestCheckpoint_DropsUnprocessedAndDuplicateResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	questions := []string{"a", "b", "c"}
	data := `{
  "run_id": "7f1d8a8e-4c1a-4b59-9d55-2b0f5c6f3a10",
  "questions_hash": "` + hashQuestions(questions) + `",
  "total": 3,
  "processed": [0],
  "results": [
    {"index": 0, "answer": "kept"},
    {"index": 0, "answer": "duplicate"},
    {"index": 1, "answer": "not marked processed"}
  ]
}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cp, err := LoadCheckpoint(path, questions)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	snap := cp.Snapshot()
	if len(snap) != 1 || snap[0].Answer != "kept" {
		t.Errorf("snapshot = %+v", snap)
	}
	if cp.IsProcessed(1) {
		t.Error("index 1 should be asked again")
	}
}

func TestCheckpoint_CorruptIndexRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	questions := []string{"a"}
	data := `{"questions_hash": "` + hashQuestions(questions) + `", "total": 1, "processed": [4]}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCheckpoint(path, questions); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestCheckpoint_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	cp, err := LoadCheckpoint(path, []string{"a"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := cp.Record(Result{Index: 0}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := cp.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected checkpoint file to be removed")
	}
	if err := cp.Clear(); err != nil {
		t.Errorf("second clear should be a no-op, got %v", err)
	}
}

func TestSortByIndex(t *testing.T) {
	in := []Result{{Index: 2}, {Index: 0}, {Index: 1}}
	out := SortByIndex(in)
	for i, r := range out {
		if r.Index != i {
			t.Errorf("position %d holds index %d", i, r.Index)
		}
	}
	if in[0].Index != 2 {
		t.Error("SortByIndex must not reorder its input")
	}
}

func TestParseMode(t *testing.T) {
	if m, ok := ParseMode("batched"); !ok || m != ModeBatched {
		t.Errorf("ParseMode(batched) = %q, %v", m, ok)
	}
	if _, ok := ParseMode("parallel"); ok {
		t.Error("unknown mode should be rejected")
	}
}
