package stubs

import (
	"context"
	"sort"
	"sync"

	"library-backend/internal/models"
)

// MockJournal keeps circulation events in memory
type MockJournal struct {
	mu     sync.RWMutex
	events []models.CirculationEvent
}

// NewMockJournal creates an empty in-memory journal
func NewMockJournal() *MockJournal {
	return &MockJournal{events: make([]models.CirculationEvent, 0)}
}

// RecordEvent appends an event
func (j *MockJournal) RecordEvent(ctx context.Context, event models.CirculationEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.events = append(j.events, event)
	return nil
}

// GetLastEvents returns the last N events, newest first
func (j *MockJournal) GetLastEvents(ctx context.Context, limit int) ([]models.CirculationEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	sorted := make([]models.CirculationEvent, len(j.events))
	copy(sorted, j.events)
	sort.SliceStable(sorted, func(i, k int) bool {
		return sorted[i].Date.After(sorted[k].Date)
	})

	if limit > len(sorted) {
		limit = len(sorted)
	}
	return sorted[:limit], nil
}

// Close does nothing for the mock journal
func (j *MockJournal) Close() error {
	return nil
}
