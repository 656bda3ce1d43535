package withdrawal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps the queue in process memory. It is used by tests
// and by the development wiring when no database is configured.
type MemoryRepository struct {
	mu       sync.RWMutex
	rows     map[string]PendingWithdrawal
	refs     map[string]string
	archived map[string]PendingWithdrawal
}

// NewMemoryRepository constructs an empty in-memory queue.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows:     make(map[string]PendingWithdrawal),
		refs:     make(map[string]string),
		archived: make(map[string]PendingWithdrawal),
	}
}

func (r *MemoryRepository) Create(_ context.Context, w PendingWithdrawal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rows[w.ID]; exists {
		return fmt.Errorf("pending withdrawal %s exists", w.ID)
	}
	if _, dup := r.refs[w.Reference]; dup {
		return fmt.Errorf("reference %s: %w", w.Reference, ErrDuplicateReference)
	}
	r.rows[w.ID] = w
	r.refs[w.Reference] = w.ID
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (PendingWithdrawal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.rows[id]
	if !ok {
		return PendingWithdrawal{}, fmt.Errorf("pending withdrawal %s: %w", id, ErrNotFound)
	}
	return w, nil
}

func (r *MemoryRepository) List(_ context.Context, filter Filter) ([]PendingWithdrawal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []PendingWithdrawal
	for _, w := range r.rows {
		if filter.CompanyID != "" && w.CompanyID != filter.CompanyID {
			continue
		}
		if filter.WalletID != "" && w.WalletID != filter.WalletID {
			continue
		}
		if filter.Status != "" && w.Status != filter.Status {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) Eligible(_ context.Context, maxAttempts, limit int) ([]PendingWithdrawal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []PendingWithdrawal
	for _, w := range r.rows {
		if w.Status == StatusPendingFunds && w.FailedAttempts < maxAttempts {
			out = append(out, w)
		}
	}
	sortForDrain(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Claim(_ context.Context, id string, at time.Time) (PendingWithdrawal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.rows[id]
	if !ok {
		return PendingWithdrawal{}, fmt.Errorf("pending withdrawal %s: %w", id, ErrNotFound)
	}
	if w.Status != StatusPendingFunds {
		return PendingWithdrawal{}, fmt.Errorf("pending withdrawal %s is %s: %w", id, w.Status, ErrNotClaimable)
	}
	w.Status = StatusProcessing
	w.UpdatedAt = at
	r.rows[id] = w
	return w, nil
}

func (r *MemoryRepository) Finish(_ context.Context, id string, t Transition) (PendingWithdrawal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.rows[id]
	if !ok {
		return PendingWithdrawal{}, fmt.Errorf("pending withdrawal %s: %w", id, ErrNotFound)
	}
	if w.Status != StatusProcessing {
		return PendingWithdrawal{}, fmt.Errorf("pending withdrawal %s is %s: %w", id, w.Status, ErrNotClaimable)
	}
	applyTransition(&w, t)
	r.rows[id] = w
	return w, nil
}

func (r *MemoryRepository) CountByStatus(_ context.Context) (map[Status]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[Status]int)
	for _, w := range r.rows {
		counts[w.Status]++
	}
	return counts, nil
}

func (r *MemoryRepository) Archive(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	moved := 0
	for id, w := range r.rows {
		if w.Status.Terminal() && w.UpdatedAt.Before(cutoff) {
			if _, dup := r.archived[id]; dup {
				continue
			}
			r.archived[id] = w
			delete(r.rows, id)
			moved++
		}
	}
	return moved, nil
}

// Archived returns a row moved to the archive.
func (r *MemoryRepository) Archived(id string) (PendingWithdrawal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.archived[id]
	return w, ok
}

func sortForDrain(rows []PendingWithdrawal) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Priority != rows[j].Priority {
			return rows[i].Priority > rows[j].Priority
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
}

func applyTransition(w *PendingWithdrawal, t Transition) {
	w.Status = t.To
	w.UpdatedAt = t.At
	if t.IncrementAttempts {
		w.FailedAttempts++
	}
	if t.ErrorMessage != "" {
		w.ErrorMessage = t.ErrorMessage
	}
	if t.To == StatusProcessed {
		at := t.At
		w.ProcessedAt = &at
		w.TransactionID = t.TransactionID
		w.ErrorMessage = ""
	}
}
