package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tempizhere/shortenurl/internal/models"
	"go.uber.org/zap"
)

// pgUniqueViolation код ошибки PostgreSQL при нарушении уникальности
const pgUniqueViolation = "23505"

// уникальные индексы по слагу и ссылке сокращателя
var inUseConstraints = map[string]bool{
	"negotiations_slug_idx":          true,
	"negotiations_shortened_url_idx": true,
}

const negotiationColumns = "id, role, state, connection_id, thread_id, original_url, shorten_strategy, " +
	"short_url_slug, shortened_url, expires_at, created_at, updated_at"

// PostgresRepository реализует интерфейс Repository с использованием PostgreSQL
type PostgresRepository struct {
	db     Database
	logger *zap.Logger
}

// NewPostgresRepository создаёт новый экземпляр PostgresRepository
func NewPostgresRepository(db Database, logger *zap.Logger) (*PostgresRepository, error) {
	if db == nil {
		return nil, errors.New("database is nil")
	}
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}, nil
}

// Save сохраняет новую запись в базе данных
func (r *PostgresRepository) Save(ctx context.Context, rec models.Negotiation) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO negotiations ("+negotiationColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)",
		rec.ID, string(rec.Role), string(rec.State), rec.ConnectionID, rec.ThreadID, rec.OriginalURL,
		string(rec.ShortenStrategy), nullString(rec.ShortURLSlug), nullString(rec.ShortenedURL),
		nullTime(rec), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			if inUseConstraints[pgErr.ConstraintName] {
				return ErrInUse
			}
			return ErrRecordExists
		}
		r.logger.Error("Failed to save record to database", zap.String("id", rec.ID), zap.Error(err))
		return err
	}
	return nil
}

// Update перезаписывает изменяемые поля записи
func (r *PostgresRepository) Update(ctx context.Context, rec models.Negotiation) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE negotiations SET state = $2, connection_id = $3, thread_id = $4, original_url = $5,
		 shorten_strategy = $6, short_url_slug = $7, shortened_url = $8, expires_at = $9, updated_at = $10
		 WHERE id = $1`,
		rec.ID, string(rec.State), rec.ConnectionID, rec.ThreadID, rec.OriginalURL,
		string(rec.ShortenStrategy), nullString(rec.ShortURLSlug), nullString(rec.ShortenedURL),
		nullTime(rec), rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrInUse
		}
		r.logger.Error("Failed to update record in database", zap.String("id", rec.ID), zap.Error(err))
		return err
	}
	return checkAffected(res)
}

// GetByID возвращает запись по ID
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (models.Negotiation, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+negotiationColumns+" FROM negotiations WHERE id = $1", id)
	rec, err := scanNegotiation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Negotiation{}, ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get record from database", zap.String("id", id), zap.Error(err))
		return models.Negotiation{}, err
	}
	return rec, nil
}

// FindUnique возвращает единственную запись, удовлетворяющую запросу
func (r *PostgresRepository) FindUnique(ctx context.Context, q models.Query) (models.Negotiation, error) {
	if q.IsEmpty() {
		return models.Negotiation{}, ErrEmptyQuery
	}

	var (
		conds []string
		args  []interface{}
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("role", string(q.Role))
	add("connection_id", q.ConnectionID)
	add("thread_id", q.ThreadID)
	add("shortened_url", q.ShortenedURL)
	add("short_url_slug", q.ShortURLSlug)

	query := "SELECT " + negotiationColumns + " FROM negotiations WHERE " + strings.Join(conds, " AND ") + " LIMIT 2"
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query records", zap.Error(err))
		return models.Negotiation{}, err
	}
	defer rows.Close()

	var found []models.Negotiation
	for rows.Next() {
		rec, err := scanNegotiation(rows)
		if err != nil {
			return models.Negotiation{}, err
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return models.Negotiation{}, err
	}

	switch len(found) {
	case 0:
		return models.Negotiation{}, ErrNotFound
	case 1:
		return found[0], nil
	default:
		return models.Negotiation{}, ErrNotUnique
	}
}

// GetAll возвращает все записи в порядке создания
func (r *PostgresRepository) GetAll(ctx context.Context) ([]models.Negotiation, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+negotiationColumns+" FROM negotiations ORDER BY created_at, id")
	if err != nil {
		r.logger.Error("Failed to list records", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	result := []models.Negotiation{}
	for rows.Next() {
		rec, err := scanNegotiation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteByID удаляет запись, сообщения удаляются каскадно
func (r *PostgresRepository) DeleteByID(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM negotiations WHERE id = $1", id)
	if err != nil {
		r.logger.Error("Failed to delete record", zap.String("id", id), zap.Error(err))
		return err
	}
	return checkAffected(res)
}

// SaveMessage связывает сообщение с записью
func (r *PostgresRepository) SaveMessage(ctx context.Context, msg models.StoredMessage) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO negotiation_messages (record_id, message_type, role, payload, created_at) VALUES ($1, $2, $3, $4, $5)",
		msg.RecordID, msg.MessageType, string(msg.Role), []byte(msg.Payload), msg.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to save message", zap.String("record_id", msg.RecordID), zap.Error(err))
		return err
	}
	return nil
}

// GetMessage возвращает последнее сообщение указанного типа
func (r *PostgresRepository) GetMessage(ctx context.Context, recordID, messageType string) (models.StoredMessage, error) {
	var (
		msg     models.StoredMessage
		role    string
		payload []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT record_id, message_type, role, payload, created_at FROM negotiation_messages
		 WHERE record_id = $1 AND message_type = $2 ORDER BY id DESC LIMIT 1`,
		recordID, messageType,
	).Scan(&msg.RecordID, &msg.MessageType, &role, &payload, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StoredMessage{}, ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get message", zap.String("record_id", recordID), zap.Error(err))
		return models.StoredMessage{}, err
	}
	msg.Role = models.MessageRole(role)
	msg.Payload = payload
	return msg, nil
}

// Clear очищает таблицы переговоров
func (r *PostgresRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "TRUNCATE TABLE negotiation_messages, negotiations RESTART IDENTITY")
	if err != nil {
		r.logger.Error("Failed to clear database", zap.Error(err))
	}
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNegotiation(s rowScanner) (models.Negotiation, error) {
	var (
		rec                   models.Negotiation
		role, state, strategy string
		slug, shortened       sql.NullString
		expires               sql.NullTime
	)
	err := s.Scan(&rec.ID, &role, &state, &rec.ConnectionID, &rec.ThreadID, &rec.OriginalURL, &strategy,
		&slug, &shortened, &expires, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return models.Negotiation{}, err
	}

	var expiresAt *time.Time
	if expires.Valid {
		t := expires.Time
		expiresAt = &t
	}
	return models.Negotiation{
		ID:              rec.ID,
		Role:            models.Role(role),
		State:           models.State(state),
		ConnectionID:    rec.ConnectionID,
		ThreadID:        rec.ThreadID,
		OriginalURL:     rec.OriginalURL,
		ShortenStrategy: models.GoalCode(strategy),
		ShortURLSlug:    slug.String,
		ShortenedURL:    shortened.String,
		ExpiresAt:       expiresAt,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(rec models.Negotiation) sql.NullTime {
	if rec.ExpiresAt == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *rec.ExpiresAt, Valid: true}
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
