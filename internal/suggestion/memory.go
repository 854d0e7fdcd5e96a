package suggestion

import (
	"context"
	"sync"
)

// MemoryRepository keeps suggestions in process memory. It backs tests and
// the `memory` storage mode.
type MemoryRepository struct {
	mu         sync.RWMutex
	byDocument map[string][]*Edit
	byID       map[string]*Edit
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byDocument: make(map[string][]*Edit),
		byID:       make(map[string]*Edit),
	}
}

func (m *MemoryRepository) InsertSuggestion(_ context.Context, edit Edit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[edit.ID]; exists {
		return ErrDuplicate
	}
	stored := edit
	m.byID[edit.ID] = &stored
	m.byDocument[edit.DocumentID] = append(m.byDocument[edit.DocumentID], &stored)
	return nil
}

func (m *MemoryRepository) GetSuggestion(_ context.Context, documentID, suggestionID string) (Edit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	edit, ok := m.byID[suggestionID]
	if !ok || edit.DocumentID != documentID {
		return Edit{}, ErrNotFound
	}
	return copyEdit(edit), nil
}

func (m *MemoryRepository) ListSuggestions(_ context.Context, documentID string) ([]Edit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.byDocument[documentID]
	items := make([]Edit, 0, len(stored))
	for _, edit := range stored {
		items = append(items, copyEdit(edit))
	}
	return items, nil
}

func (m *MemoryRepository) ReviewSuggestion(_ context.Context, documentID, suggestionID string, review Review) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	edit, ok := m.byID[suggestionID]
	if !ok || edit.DocumentID != documentID {
		return false, nil
	}
	if edit.Status != StatusPending {
		return false, nil
	}
	reviewedAt := review.ReviewedAt
	edit.Status = review.Status
	edit.ReviewerID = review.ReviewerID
	edit.Reason = review.Reason
	edit.ReviewedAt = &reviewedAt
	return true, nil
}

func copyEdit(edit *Edit) Edit {
	out := *edit
	if edit.ReviewedAt != nil {
		at := *edit.ReviewedAt
		out.ReviewedAt = &at
	}
	return out
}
