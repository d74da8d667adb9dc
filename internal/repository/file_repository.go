package repository

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tempizhere/shortenurl/internal/models"
	"go.uber.org/zap"
)

// fileOp определяет тип строки журнала
type fileOp string

const (
	opSave    fileOp = "save"
	opUpdate  fileOp = "update"
	opDelete  fileOp = "delete"
	opMessage fileOp = "message"
)

// fileEntry представляет строку журнала в JSON-файле
type fileEntry struct {
	Op       fileOp                `json:"op"`
	Record   *models.Negotiation   `json:"record,omitempty"`
	RecordID string                `json:"record_id,omitempty"`
	Message  *models.StoredMessage `json:"message,omitempty"`
}

// FileRepository хранит записи в памяти и дописывает каждое изменение в журнал.
// При запуске журнал проигрывается заново.
type FileRepository struct {
	mem      *MemoryRepository
	filePath string
	logger   *zap.Logger
	mutex    sync.Mutex
}

// NewFileRepository создаёт новый экземпляр FileRepository и загружает журнал
func NewFileRepository(filePath string, logger *zap.Logger) (*FileRepository, error) {
	repo := &FileRepository{
		mem:      NewMemoryRepository(),
		filePath: filePath,
		logger:   logger,
	}

	// Создаём директорию, если не существует
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return repo, nil
		}
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry fileEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			// Пропускаем некорректные строки и логируем это
			repo.logger.Warn("Skipping invalid journal line", zap.String("line", scanner.Text()), zap.Error(err))
			continue
		}
		repo.replay(entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return repo, nil
}

// replay применяет строку журнала к памяти
func (r *FileRepository) replay(entry fileEntry) {
	ctx := context.Background()
	switch entry.Op {
	case opSave, opUpdate:
		if entry.Record == nil {
			return
		}
		r.mem.mu.Lock()
		r.mem.records[entry.Record.ID] = *entry.Record
		r.mem.mu.Unlock()
	case opDelete:
		_ = r.mem.DeleteByID(ctx, entry.RecordID)
	case opMessage:
		if entry.Message == nil {
			return
		}
		if err := r.mem.SaveMessage(ctx, *entry.Message); err != nil {
			r.logger.Warn("Skipping message for unknown record", zap.String("record_id", entry.Message.RecordID))
		}
	default:
		r.logger.Warn("Skipping unknown journal operation", zap.String("op", string(entry.Op)))
	}
}

// appendEntry дописывает строку в журнал
func (r *FileRepository) appendEntry(entry fileEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	file, err := os.OpenFile(r.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

// Save сохраняет новую запись в память и журнал
func (r *FileRepository) Save(ctx context.Context, rec models.Negotiation) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, err := r.mem.GetByID(ctx, rec.ID); err == nil {
		return ErrRecordExists
	}
	if err := r.appendEntry(fileEntry{Op: opSave, Record: &rec}); err != nil {
		r.logger.Error("Failed to append record to journal", zap.String("id", rec.ID), zap.Error(err))
		return err
	}
	return r.mem.Save(ctx, rec)
}

// Update перезаписывает запись в памяти и журнале
func (r *FileRepository) Update(ctx context.Context, rec models.Negotiation) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, err := r.mem.GetByID(ctx, rec.ID); err != nil {
		return err
	}
	if err := r.appendEntry(fileEntry{Op: opUpdate, Record: &rec}); err != nil {
		r.logger.Error("Failed to append update to journal", zap.String("id", rec.ID), zap.Error(err))
		return err
	}
	return r.mem.Update(ctx, rec)
}

// GetByID возвращает запись по ID
func (r *FileRepository) GetByID(ctx context.Context, id string) (models.Negotiation, error) {
	return r.mem.GetByID(ctx, id)
}

// FindUnique возвращает единственную запись, удовлетворяющую запросу
func (r *FileRepository) FindUnique(ctx context.Context, q models.Query) (models.Negotiation, error) {
	return r.mem.FindUnique(ctx, q)
}

// GetAll возвращает все записи
func (r *FileRepository) GetAll(ctx context.Context) ([]models.Negotiation, error) {
	return r.mem.GetAll(ctx)
}

// DeleteByID удаляет запись и фиксирует удаление в журнале
func (r *FileRepository) DeleteByID(ctx context.Context, id string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, err := r.mem.GetByID(ctx, id); err != nil {
		return err
	}
	if err := r.appendEntry(fileEntry{Op: opDelete, RecordID: id}); err != nil {
		r.logger.Error("Failed to append delete to journal", zap.String("id", id), zap.Error(err))
		return err
	}
	return r.mem.DeleteByID(ctx, id)
}

// SaveMessage связывает сообщение с записью
func (r *FileRepository) SaveMessage(ctx context.Context, msg models.StoredMessage) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, err := r.mem.GetByID(ctx, msg.RecordID); err != nil {
		return err
	}
	if err := r.appendEntry(fileEntry{Op: opMessage, Message: &msg}); err != nil {
		r.logger.Error("Failed to append message to journal", zap.String("record_id", msg.RecordID), zap.Error(err))
		return err
	}
	return r.mem.SaveMessage(ctx, msg)
}

// GetMessage возвращает последнее сообщение указанного типа
func (r *FileRepository) GetMessage(ctx context.Context, recordID, messageType string) (models.StoredMessage, error) {
	return r.mem.GetMessage(ctx, recordID, messageType)
}
