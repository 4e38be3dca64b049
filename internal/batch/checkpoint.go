package batch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Checkpoint is the shared result table plus the set of processed question
// indices, persisted after every recorded result so an interrupted run can
// resume. An empty path keeps it in memory only.
type Checkpoint struct {
	RunID         uuid.UUID `json:"run_id"`
	QuestionsHash string    `json:"questions_hash"`
	Total         int       `json:"total"`
	Processed     []int     `json:"processed"`
	Results       []Result  `json:"results"`
	StartedAt     time.Time `json:"started_at"`
	Timestamp     time.Time `json:"timestamp"`

	path string
	mu   sync.Mutex
	done map[int]bool
}

// LoadCheckpoint reads the checkpoint at path for the given question list, or
// starts a new one when none exists. A checkpoint written for a different
// question list is rejected.
func LoadCheckpoint(path string, questions []string) (*Checkpoint, error) {
	hash := hashQuestions(questions)
	fresh := &Checkpoint{
		RunID:         uuid.New(),
		QuestionsHash: hash,
		Total:         len(questions),
		StartedAt:     time.Now().UTC(),
		path:          path,
		done:          make(map[int]bool),
	}
	if path == "" {
		return fresh, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fresh, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	if cp.QuestionsHash != hash || cp.Total != len(questions) {
		return nil, fmt.Errorf("checkpoint %s was written for a different question list", path)
	}

	cp.path = path
	cp.done = make(map[int]bool, len(cp.Processed))
	for _, idx := range cp.Processed {
		if idx < 0 || idx >= cp.Total {
			return nil, fmt.Errorf("checkpoint index %d out of range [0, %d)", idx, cp.Total)
		}
		cp.done[idx] = true
	}

	// Keep one result per processed index; anything else is dropped and
	// will be re-asked.
	kept := cp.Results[:0]
	seen := make(map[int]bool, len(cp.Results))
	for _, res := range cp.Results {
		if cp.done[res.Index] && !seen[res.Index] {
			seen[res.Index] = true
			kept = append(kept, res)
		}
	}
	cp.Results = kept
	cp.Processed = cp.Processed[:0]
	for _, res := range cp.Results {
		cp.Processed = append(cp.Processed, res.Index)
	}
	cp.done = seen
	return &cp, nil
}

// IsProcessed reports whether question idx already has a result.
func (c *Checkpoint) IsProcessed(idx int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done[idx]
}

// ProcessedCount is the number of recorded results.
func (c *Checkpoint) ProcessedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.done)
}

// Pending lists the unprocessed indices in ascending order.
func (c *Checkpoint) Pending() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int
	for i := 0; i < c.Total; i++ {
		if !c.done[i] {
			out = append(out, i)
		}
	}
	return out
}

// Record appends res and marks its index processed as one step, then
// persists. Recording an index that is already processed is a no-op and
// returns false. The result is kept in memory even if persisting fails.
func (c *Checkpoint) Record(res Result) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if res.Index < 0 || res.Index >= c.Total {
		return false, fmt.Errorf("result index %d out of range [0, %d)", res.Index, c.Total)
	}
	if c.done[res.Index] {
		return false, nil
	}
	c.done[res.Index] = true
	c.Processed = append(c.Processed, res.Index)
	c.Results = append(c.Results, res)

	return true, c.saveLocked()
}

// Snapshot returns a copy of the results in completion order.
func (c *Checkpoint) Snapshot() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Result, len(c.Results))
	copy(out, c.Results)
	return out
}

// Save persists the checkpoint.
func (c *Checkpoint) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

// Clear removes the checkpoint file.
func (c *Checkpoint) Clear() error {
	if c.path == "" {
		return nil
	}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

func (c *Checkpoint) saveLocked() error {
	c.Timestamp = time.Now().UTC()
	if c.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return os.Rename(tmp, c.path)
}

func hashQuestions(questions []string) string {
	h := sha256.New()
	for _, q := range questions {
		h.Write([]byte(strings.TrimSpace(q)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
