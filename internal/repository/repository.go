// Package repository содержит хранилища записей переговоров: в памяти, в файле и в PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tempizhere/shortenurl/internal/models"
)

var (
	// ErrNotFound возвращается, если запись или сообщение не найдены
	ErrNotFound = errors.New("record not found")
	// ErrNotUnique возвращается, если запросу соответствует больше одной записи
	ErrNotUnique = errors.New("more than one record matches query")
	// ErrRecordExists возвращается при повторном сохранении записи с тем же ID
	ErrRecordExists = errors.New("record already exists")
	// ErrInUse возвращается, если слаг или сокращённая ссылка уже принадлежат другой записи
	ErrInUse = errors.New("slug or shortened url already in use")
	// ErrEmptyQuery возвращается при поиске без ключей
	ErrEmptyQuery = errors.New("empty query")
)

// Repository определяет интерфейс хранилища записей переговоров.
// Конкурентные записи одной и той же записи должен исключать вызывающий.
type Repository interface {
	// Save сохраняет новую запись
	Save(ctx context.Context, rec models.Negotiation) error
	// Update перезаписывает существующую запись
	Update(ctx context.Context, rec models.Negotiation) error
	// GetByID возвращает запись по ID
	GetByID(ctx context.Context, id string) (models.Negotiation, error)
	// FindUnique возвращает единственную запись, удовлетворяющую запросу
	FindUnique(ctx context.Context, q models.Query) (models.Negotiation, error)
	// GetAll возвращает все записи в порядке создания
	GetAll(ctx context.Context) ([]models.Negotiation, error)
	// DeleteByID удаляет запись и связанные с ней сообщения
	DeleteByID(ctx context.Context, id string) error
	// SaveMessage связывает протокольное сообщение с записью
	SaveMessage(ctx context.Context, msg models.StoredMessage) error
	// GetMessage возвращает последнее сообщение указанного типа для записи
	GetMessage(ctx context.Context, recordID, messageType string) (models.StoredMessage, error)
}

// Database определяет интерфейс для работы с базой данных
type Database interface {
	// PingContext проверяет соединение с базой данных
	PingContext(ctx context.Context) error
	// Close закрывает соединение с базой данных
	Close() error
	// ExecContext выполняет SQL-команду без возврата результатов
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	// QueryContext выполняет SQL-запрос и возвращает результаты
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	// QueryRowContext выполняет SQL-запрос и возвращает одну строку результата
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
