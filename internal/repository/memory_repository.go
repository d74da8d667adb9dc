package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/tempizhere/shortenurl/internal/models"
)

// MemoryRepository реализует интерфейс Repository с использованием map
type MemoryRepository struct {
	mu       sync.RWMutex
	records  map[string]models.Negotiation
	messages map[string][]models.StoredMessage
}

// NewMemoryRepository создаёт новый экземпляр MemoryRepository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records:  make(map[string]models.Negotiation),
		messages: make(map[string][]models.StoredMessage),
	}
}

// Save сохраняет новую запись
func (r *MemoryRepository) Save(_ context.Context, rec models.Negotiation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.ID]; exists {
		return ErrRecordExists
	}
	r.records[rec.ID] = rec.Clone()
	return nil
}

// Update перезаписывает существующую запись
func (r *MemoryRepository) Update(_ context.Context, rec models.Negotiation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.ID]; !exists {
		return ErrNotFound
	}
	r.records[rec.ID] = rec.Clone()
	return nil
}

// GetByID возвращает запись по ID
func (r *MemoryRepository) GetByID(_ context.Context, id string) (models.Negotiation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.records[id]
	if !exists {
		return models.Negotiation{}, ErrNotFound
	}
	return rec.Clone(), nil
}

// FindUnique возвращает единственную запись, удовлетворяющую запросу
func (r *MemoryRepository) FindUnique(_ context.Context, q models.Query) (models.Negotiation, error) {
	if q.IsEmpty() {
		return models.Negotiation{}, ErrEmptyQuery
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *models.Negotiation
	for _, rec := range r.records {
		if !q.Matches(rec) {
			continue
		}
		if found != nil {
			return models.Negotiation{}, ErrNotUnique
		}
		match := rec
		found = &match
	}
	if found == nil {
		return models.Negotiation{}, ErrNotFound
	}
	return found.Clone(), nil
}

// GetAll возвращает все записи в порядке создания
func (r *MemoryRepository) GetAll(_ context.Context) ([]models.Negotiation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]models.Negotiation, 0, len(r.records))
	for _, rec := range r.records {
		result = append(result, rec.Clone())
	}
	sortByCreation(result)
	return result, nil
}

// DeleteByID удаляет запись и её сообщения
func (r *MemoryRepository) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[id]; !exists {
		return ErrNotFound
	}
	delete(r.records, id)
	delete(r.messages, id)
	return nil
}

// SaveMessage связывает сообщение с существующей записью
func (r *MemoryRepository) SaveMessage(_ context.Context, msg models.StoredMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[msg.RecordID]; !exists {
		return ErrNotFound
	}
	r.messages[msg.RecordID] = append(r.messages[msg.RecordID], msg)
	return nil
}

// GetMessage возвращает последнее сообщение указанного типа
func (r *MemoryRepository) GetMessage(_ context.Context, recordID, messageType string) (models.StoredMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.messages[recordID]
	for i := len(stored) - 1; i >= 0; i-- {
		if stored[i].MessageType == messageType {
			return stored[i], nil
		}
	}
	return models.StoredMessage{}, ErrNotFound
}

// Clear очищает хранилище
func (r *MemoryRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make(map[string]models.Negotiation)
	r.messages = make(map[string][]models.StoredMessage)
}

func sortByCreation(recs []models.Negotiation) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}
