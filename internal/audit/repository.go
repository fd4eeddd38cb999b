package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of entries an InMemoryRepository keeps.
const DefaultCapacity = 10000

// ErrChainBroken is returned by Verify when an entry no longer matches its
// hash or its predecessor.
var ErrChainBroken = errors.New("audit hash chain broken")

// Repository stores audit entries.
type Repository interface {
	// Append assigns the entry its id, timestamp and hashes and stores it.
	Append(entry Entry) (Entry, error)
	// Query returns matching entries, newest first.
	Query(f Filter) ([]Entry, error)
}

// InMemoryRepository keeps the most recent entries in memory. The oldest
// entry is dropped once capacity is reached. Thread-safe.
type InMemoryRepository struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	now      func() time.Time
}

// NewInMemoryRepository creates a repository holding up to capacity
// entries; capacity <= 0 means DefaultCapacity.
func NewInMemoryRepository(capacity int) *InMemoryRepository {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &InMemoryRepository{capacity: capacity, now: time.Now}
}

// Append implements Repository.
func (r *InMemoryRepository) Append(entry Entry) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.ID = uuid.New().String()
	entry.CreatedAt = r.now().UTC()
	entry.PreviousHash = ""
	if n := len(r.entries); n > 0 {
		entry.PreviousHash = r.entries[n-1].Hash
	}
	entry.Hash = hashEntry(entry)

	if len(r.entries) == r.capacity {
		r.entries = append(r.entries[:0], r.entries[1:]...)
	}
	r.entries = append(r.entries, entry)
	return entry, nil
}

// Query implements Repository.
func (r *InMemoryRepository) Query(f Filter) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := []Entry{}
	for i := len(r.entries) - 1; i >= 0; i-- {
		if !f.match(r.entries[i]) {
			continue
		}
		results = append(results, r.entries[i])
		if f.Limit > 0 && len(results) >= f.Limit {
			break
		}
	}
	return results, nil
}

// Verify walks the retained entries and checks every hash link.
func (r *InMemoryRepository) Verify() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i, e := range r.entries {
		if hashEntry(e) != e.Hash {
			return fmt.Errorf("%w: entry %s altered", ErrChainBroken, e.ID)
		}
		if i > 0 && e.PreviousHash != r.entries[i-1].Hash {
			return fmt.Errorf("%w: entry %s does not follow %s", ErrChainBroken, e.ID, r.entries[i-1].ID)
		}
	}
	return nil
}

// hashEntry covers every field except Hash itself.
func hashEntry(e Entry) string {
	fields := []string{
		e.ID,
		e.Operator,
		e.Action,
		strconv.FormatInt(e.CafeID, 10),
		e.RequestID,
		e.IPAddress,
		e.CreatedAt.Format(time.RFC3339Nano),
		e.PreviousHash,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}
