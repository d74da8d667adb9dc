// Package service реализует машину состояний протокола shorten-url для обеих ролей.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tempizhere/shortenurl/internal/events"
	"github.com/tempizhere/shortenurl/internal/messages"
	"github.com/tempizhere/shortenurl/internal/models"
	"github.com/tempizhere/shortenurl/internal/repository"
	"github.com/tempizhere/shortenurl/internal/shorturl"
	"go.uber.org/zap"
)

var (
	ErrMissingShortenedURL = errors.New("record has no shortened URL")
	ErrInvalidProblemCode  = errors.New("problem code is not allowed for decline")
	ErrEmptyID             = errors.New("empty ID")
	ErrShortenedURLInUse   = errors.New("shortened URL is already in use")
	ErrValidityTooLong     = errors.New("requested validity is too long")
	// ErrDelivery оборачивает ошибки транспорта; запись при этом уже сохранена
	ErrDelivery = errors.New("send")
)

// MaxValiditySeconds наибольший срок действия, который можно прибавить к текущему времени
const MaxValiditySeconds = math.MaxInt64 / int64(time.Second)

// Transport отправляет исходящие протокольные сообщения собеседнику
type Transport interface {
	Send(ctx context.Context, peerID string, msg messages.Message) error
}

// ProblemReportError описывает отказ, о котором нужно сообщить собеседнику problem-report сообщением
type ProblemReportError struct {
	Code        models.ProblemCode
	Description string
	Err         error
}

func (e *ProblemReportError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *ProblemReportError) Unwrap() error {
	return e.Err
}

func problem(code models.ProblemCode, description string, err error) *ProblemReportError {
	return &ProblemReportError{Code: code, Description: description, Err: err}
}

// Option настраивает Service
type Option func(*Service)

// WithBaseURL задаёт базовый URL, от которого строятся короткие ссылки
func WithBaseURL(baseURL string) Option {
	return func(s *Service) {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithTokenSource задаёт источник случайных токенов для слагов и _oobid
func WithTokenSource(tokens shorturl.TokenSource) Option {
	return func(s *Service) {
		s.tokens = tokens
	}
}

// WithClock задаёт источник текущего времени
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLegacySlugProblemCode включает код invalid-goal-code для некорректного слага
// для совместимости со старыми агентами
func WithLegacySlugProblemCode(enabled bool) Option {
	return func(s *Service) {
		s.legacySlugCode = enabled
	}
}

// Service реализует логику переговоров о сокращении URL
type Service struct {
	repo           repository.Repository
	transport      Transport
	notifier       events.Notifier
	tokens         shorturl.TokenSource
	logger         *zap.Logger
	baseURL        string
	now            func() time.Time
	legacySlugCode bool
}

// NewService создаёт новый экземпляр Service
func NewService(repo repository.Repository, transport Transport, notifier events.Notifier, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		transport: transport,
		notifier:  notifier,
		tokens:    shorturl.UUIDTokens{},
		logger:    logger,
		now:       time.Now,
	}
	if s.notifier == nil {
		s.notifier = events.Nop{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now возвращает текущее время по часам сервиса
func (s *Service) Now() time.Time {
	return s.now()
}

// RequestOptions параметры запроса на сокращение
type RequestOptions struct {
	ConnectionID             string
	URL                      string
	GoalCode                 models.GoalCode
	RequestedValiditySeconds int64
	ShortURLSlug             string
}

// RequestShortenedURL создаёт запись поставщика и отправляет запрос сокращателю
func (s *Service) RequestShortenedURL(ctx context.Context, opts RequestOptions) (models.Negotiation, error) {
	if opts.ConnectionID == "" {
		return models.Negotiation{}, fmt.Errorf("%w: connection id is required", ErrEmptyID)
	}

	msg := messages.NewRequestShortenedURL(opts.URL, opts.RequestedValiditySeconds, string(opts.GoalCode), opts.ShortURLSlug)
	now := s.now()
	rec := models.Negotiation{
		ID:              uuid.NewString(),
		Role:            models.RoleProvider,
		State:           models.InitialState(models.RoleProvider),
		ConnectionID:    opts.ConnectionID,
		ThreadID:        msg.ThreadID(),
		OriginalURL:     opts.URL,
		ShortenStrategy: opts.GoalCode,
		ShortURLSlug:    opts.ShortURLSlug,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Save(ctx, rec); err != nil {
		return models.Negotiation{}, fmt.Errorf("save record: %w", err)
	}
	if err := s.saveMessage(ctx, rec.ID, msg, models.MessageSender); err != nil {
		return models.Negotiation{}, err
	}
	s.emit(ctx, rec, "")

	if err := s.send(ctx, rec.ConnectionID, msg); err != nil {
		return rec, err
	}
	s.logger.Info("Requested shortened URL",
		zap.String("record_id", rec.ID),
		zap.String("connection_id", rec.ConnectionID),
		zap.String("goal_code", string(rec.ShortenStrategy)))
	return rec, nil
}

// HandleRequest проверяет входящий запрос и создаёт запись сокращателя.
// Отказы возвращаются как *ProblemReportError, запись при этом не создаётся.
func (s *Service) HandleRequest(ctx context.Context, peerID string, msg *messages.RequestShortenedURL) (models.Negotiation, error) {
	if err := s.validateRequest(msg); err != nil {
		s.logger.Info("Rejected shorten request",
			zap.String("connection_id", peerID),
			zap.String("thread_id", msg.ThreadID()),
			zap.Error(err))
		return models.Negotiation{}, err
	}

	goal := models.GoalCode(msg.GoalCode)
	slug := msg.ShortURLSlug
	if slug != "" {
		if err := s.checkSlugFree(ctx, slug); err != nil {
			return models.Negotiation{}, err
		}
	} else if goal != models.GoalShortenOobV2 {
		slug = s.tokens.NewToken()
	}

	now := s.now()
	rec := models.Negotiation{
		ID:              uuid.NewString(),
		Role:            models.RoleShortener,
		State:           models.InitialState(models.RoleShortener),
		ConnectionID:    peerID,
		ThreadID:        msg.ThreadID(),
		OriginalURL:     msg.URL,
		ShortenStrategy: goal,
		ShortURLSlug:    slug,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Save(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrInUse) {
			return models.Negotiation{}, problem(s.slugProblemCode(), "short_url_slug is already taken", err)
		}
		return models.Negotiation{}, fmt.Errorf("save record: %w", err)
	}
	if err := s.saveMessage(ctx, rec.ID, msg, models.MessageReceiver); err != nil {
		if delErr := s.repo.DeleteByID(ctx, rec.ID); delErr != nil {
			s.logger.Error("Failed to remove record without request message",
				zap.String("record_id", rec.ID),
				zap.Error(delErr))
		}
		return models.Negotiation{}, err
	}
	s.emit(ctx, rec, "")
	return rec, nil
}

// checkSlugFree отклоняет слаг, который уже занят другой записью сокращателя
func (s *Service) checkSlugFree(ctx context.Context, slug string) error {
	_, err := s.FindBySlug(ctx, slug)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil
	case err == nil, errors.Is(err, repository.ErrNotUnique):
		return problem(s.slugProblemCode(), fmt.Sprintf("short_url_slug %q is already taken", slug), nil)
	default:
		return fmt.Errorf("find slug: %w", err)
	}
}

func (s *Service) slugProblemCode() models.ProblemCode {
	if s.legacySlugCode {
		return models.ProblemInvalidGoalCode
	}
	return models.ProblemInvalidSlug
}

func (s *Service) validateRequest(msg *messages.RequestShortenedURL) error {
	if !shorturl.IsValidURL(msg.URL) {
		return problem(models.ProblemInvalidURL, "url must be a valid URL", nil)
	}
	goal := models.GoalCode(msg.GoalCode)
	if !goal.Valid() {
		return problem(models.ProblemInvalidGoalCode, fmt.Sprintf("unknown goal code %q", msg.GoalCode), nil)
	}
	if goal == models.GoalShortenOobV1 && !strings.Contains(msg.URL, "oob=") {
		return problem(models.ProblemInvalidURL, "shorten.oobv1 requires an out-of-band invitation url", nil)
	}
	if goal == models.GoalShortenOobV2 && !strings.Contains(msg.URL, "_oob=") {
		return problem(models.ProblemInvalidURL, "shorten.oobv2 requires an _oob invitation url", nil)
	}
	if msg.ShortURLSlug != "" && !shorturl.IsValidSlug(msg.ShortURLSlug) {
		return problem(s.slugProblemCode(), "short_url_slug may only contain letters, digits, '_' and '-'", nil)
	}
	if msg.RequestedValiditySeconds > MaxValiditySeconds {
		return problem(models.ProblemValidityTooLong,
			fmt.Sprintf("requested_validity_seconds must not exceed %d", MaxValiditySeconds), nil)
	}
	return nil
}

// AcceptOptions параметры принятия запроса. Пустой ShortenedURL означает, что ссылка строится автоматически.
type AcceptOptions struct {
	ID           string
	ShortenedURL string
}

// AcceptRequest выдаёт сокращённую ссылку в ответ на полученный запрос
func (s *Service) AcceptRequest(ctx context.Context, opts AcceptOptions) (models.Negotiation, error) {
	rec, err := s.getForUpdate(ctx, opts.ID, models.RoleShortener, models.StateRequestReceived)
	if err != nil {
		return models.Negotiation{}, err
	}

	validity, err := s.requestedValidity(ctx, rec.ID)
	if err != nil {
		return models.Negotiation{}, err
	}
	if validity > MaxValiditySeconds {
		return models.Negotiation{}, fmt.Errorf("%w: %d seconds", ErrValidityTooLong, validity)
	}
	var expiresAt *time.Time
	if validity > 0 {
		t := s.now().Add(time.Duration(validity) * time.Second)
		expiresAt = &t
	}

	shortened := opts.ShortenedURL
	if shortened == "" {
		shortened, err = s.CreateShortenedURL(rec.ShortenStrategy, rec.ShortURLSlug)
		if err != nil {
			return models.Negotiation{}, err
		}
	}
	if err := s.checkShortenedURLFree(ctx, rec.ID, shortened); err != nil {
		return models.Negotiation{}, err
	}

	msg := messages.NewShortenedURL(rec.ThreadID, shortened, expiresAt)
	rec.ShortenedURL = shortened
	rec.ExpiresAt = expiresAt
	if err := s.transitionState(ctx, &rec, models.StateShortenedURLSent); err != nil {
		return models.Negotiation{}, err
	}
	if err := s.saveMessage(ctx, rec.ID, msg, models.MessageSender); err != nil {
		return rec, err
	}
	if err := s.send(ctx, rec.ConnectionID, msg); err != nil {
		return rec, err
	}
	return rec, nil
}

// checkShortenedURLFree проверяет, что ссылка не выдана другой записи сокращателя
func (s *Service) checkShortenedURLFree(ctx context.Context, recordID, shortened string) error {
	other, err := s.FindByShortenedURL(ctx, shortened)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil
	case errors.Is(err, repository.ErrNotUnique):
		return fmt.Errorf("%w: %s", ErrShortenedURLInUse, shortened)
	case err != nil:
		return fmt.Errorf("find shortened url: %w", err)
	case other.ID != recordID:
		return fmt.Errorf("%w: %s", ErrShortenedURLInUse, shortened)
	}
	return nil
}

// requestedValidity читает requested_validity_seconds из сохранённого запроса
func (s *Service) requestedValidity(ctx context.Context, recordID string) (int64, error) {
	stored, err := s.repo.GetMessage(ctx, recordID, messages.TypeRequestShortenedURL)
	if err != nil {
		return 0, fmt.Errorf("load request message: %w", err)
	}
	var req messages.RequestShortenedURL
	if err := json.Unmarshal(stored.Payload, &req); err != nil {
		return 0, fmt.Errorf("decode request message: %w", err)
	}
	return req.RequestedValiditySeconds, nil
}

// DeclineOptions параметры отклонения запроса
type DeclineOptions struct {
	ID          string
	ProblemCode models.ProblemCode
	Description string
}

// DeclineRequest отправляет problem-report в ответ на запрос. Состояние записи не меняется.
func (s *Service) DeclineRequest(ctx context.Context, opts DeclineOptions) (models.Negotiation, error) {
	if !models.IsDeclineCode(opts.ProblemCode) {
		return models.Negotiation{}, fmt.Errorf("%w: %s", ErrInvalidProblemCode, opts.ProblemCode)
	}
	rec, err := s.getForUpdate(ctx, opts.ID, models.RoleShortener, models.StateRequestReceived)
	if err != nil {
		return models.Negotiation{}, err
	}

	msg := messages.NewProblemReport(rec.ThreadID, string(opts.ProblemCode), opts.Description)
	if err := s.saveMessage(ctx, rec.ID, msg, models.MessageSender); err != nil {
		return rec, err
	}
	if err := s.send(ctx, rec.ConnectionID, msg); err != nil {
		return rec, err
	}
	s.logger.Info("Declined shorten request",
		zap.String("record_id", rec.ID),
		zap.String("code", string(opts.ProblemCode)))
	return rec, nil
}

// HandleShortenedURL принимает сокращённую ссылку от сокращателя
func (s *Service) HandleShortenedURL(ctx context.Context, peerID string, msg *messages.ShortenedURL) (models.Negotiation, error) {
	rec, err := s.repo.FindUnique(ctx, models.Query{
		Role:         models.RoleProvider,
		ConnectionID: peerID,
		ThreadID:     msg.ThreadID(),
	})
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrNotUnique) {
		return models.Negotiation{}, problem(models.ProblemInvalidState,
			"no pending request for this thread", fmt.Errorf("%w: %v", models.ErrInvalidState, err))
	}
	if err != nil {
		return models.Negotiation{}, fmt.Errorf("find record: %w", err)
	}
	if err := rec.CheckState(models.StateRequestSent); err != nil {
		return models.Negotiation{}, problem(models.ProblemInvalidState, "shortened url was already received", err)
	}

	rec.ShortenedURL = msg.ShortenedURL
	rec.ExpiresAt = msg.ExpiresAt()
	if err := s.transitionState(ctx, &rec, models.StateShortenedURLReceived); err != nil {
		return models.Negotiation{}, err
	}
	if err := s.saveMessage(ctx, rec.ID, msg, models.MessageReceiver); err != nil {
		return rec, err
	}
	return rec, nil
}

// RequestInvalidation просит сокращателя аннулировать полученную ссылку
func (s *Service) RequestInvalidation(ctx context.Context, id string) (models.Negotiation, error) {
	rec, err := s.getForUpdate(ctx, id, models.RoleProvider, models.StateShortenedURLReceived)
	if err != nil {
		return models.Negotiation{}, err
	}
	if rec.ShortenedURL == "" {
		return models.Negotiation{}, fmt.Errorf("%w: record %s", ErrMissingShortenedURL, rec.ID)
	}

	msg := messages.NewInvalidateShortenedURL(rec.ThreadID, rec.ShortenedURL)
	if err := s.transitionState(ctx, &rec, models.StateInvalidateSent); err != nil {
		return models.Negotiation{}, err
	}
	if err := s.saveMessage(ctx, rec.ID, msg, models.MessageSender); err != nil {
		return rec, err
	}
	if err := s.send(ctx, rec.ConnectionID, msg); err != nil {
		return rec, err
	}
	return rec, nil
}

// HandleInvalidate аннулирует ссылку по запросу её владельца
func (s *Service) HandleInvalidate(ctx context.Context, peerID string, msg *messages.InvalidateShortenedURL) (models.Negotiation, error) {
	rec, err := s.FindByShortenedURL(ctx, msg.ShortenedURL)
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrNotUnique) {
		return models.Negotiation{}, problem(models.ProblemShortURLInvalid, "shortened url is not known", err)
	}
	if err != nil {
		return models.Negotiation{}, fmt.Errorf("find record: %w", err)
	}
	if !shorturl.IsResolvable(rec, s.now()) {
		return models.Negotiation{}, problem(models.ProblemShortURLInvalid, "shortened url is no longer valid", nil)
	}
	if rec.ConnectionID != peerID {
		s.logger.Warn("Rejected invalidation from foreign peer",
			zap.String("record_id", rec.ID),
			zap.String("owner", rec.ConnectionID),
			zap.String("peer", peerID))
		return models.Negotiation{}, problem(models.ProblemRejectedInvalidation,
			"shortened url belongs to another connection", nil)
	}

	if err := s.transitionState(ctx, &rec, models.StateInvalidateReceived); err != nil {
		return models.Negotiation{}, err
	}
	if err := s.saveMessage(ctx, rec.ID, msg, models.MessageReceiver); err != nil {
		return rec, err
	}
	return rec, nil
}

// CompleteInvalidation переводит запись в invalidated после отправки подтверждения
func (s *Service) CompleteInvalidation(ctx context.Context, id string) (models.Negotiation, error) {
	rec, err := s.getForUpdate(ctx, id, models.RoleShortener, models.StateInvalidateReceived)
	if err != nil {
		return models.Negotiation{}, err
	}
	if err := s.transitionState(ctx, &rec, models.StateInvalidated); err != nil {
		return models.Negotiation{}, err
	}
	return rec, nil
}

// transitionState переводит запись на следующий шаг, сохраняет её и уведомляет подписчиков.
// При ошибке rec остаётся прежним.
func (s *Service) transitionState(ctx context.Context, rec *models.Negotiation, to models.State) error {
	from := rec.State
	if !models.CanTransition(rec.Role, from, to) {
		return fmt.Errorf("%w: record %s cannot move from %s to %s", models.ErrInvalidState, rec.ID, from, to)
	}

	updated := rec.Clone()
	updated.State = to
	updated.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, updated); err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	*rec = updated

	s.logger.Debug("Negotiation state changed",
		zap.String("record_id", rec.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	s.emit(ctx, updated, from)
	return nil
}

func (s *Service) getForUpdate(ctx context.Context, id string, role models.Role, state models.State) (models.Negotiation, error) {
	if id == "" {
		return models.Negotiation{}, ErrEmptyID
	}
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return models.Negotiation{}, fmt.Errorf("get record %s: %w", id, err)
	}
	if err := rec.CheckRole(role); err != nil {
		return models.Negotiation{}, err
	}
	if err := rec.CheckState(state); err != nil {
		return models.Negotiation{}, err
	}
	return rec, nil
}

func (s *Service) emit(ctx context.Context, rec models.Negotiation, previous models.State) {
	s.notifier.Notify(ctx, events.Event{
		Type:          events.EventStateChanged,
		Record:        rec.Clone(),
		PreviousState: previous,
	})
}

func (s *Service) saveMessage(ctx context.Context, recordID string, msg messages.Message, role models.MessageRole) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	err = s.repo.SaveMessage(ctx, models.StoredMessage{
		RecordID:    recordID,
		MessageType: msg.MessageType(),
		Role:        role,
		Payload:     payload,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (s *Service) send(ctx context.Context, peerID string, msg messages.Message) error {
	if err := s.transport.Send(ctx, peerID, msg); err != nil {
		s.logger.Error("Failed to send message",
			zap.String("connection_id", peerID),
			zap.String("type", msg.MessageType()),
			zap.Error(err))
		return fmt.Errorf("%w %s: %w", ErrDelivery, msg.MessageType(), err)
	}
	return nil
}

// CreateShortenedURL строит короткую ссылку от базового URL сервиса
func (s *Service) CreateShortenedURL(strategy models.GoalCode, slug string) (string, error) {
	return shorturl.Build(strategy, s.baseURL, slug, s.tokens)
}

// GetByID возвращает запись по ID
func (s *Service) GetByID(ctx context.Context, id string) (models.Negotiation, error) {
	return s.repo.GetByID(ctx, id)
}

// GetAll возвращает все записи
func (s *Service) GetAll(ctx context.Context) ([]models.Negotiation, error) {
	return s.repo.GetAll(ctx)
}

// DeleteByID удаляет запись
func (s *Service) DeleteByID(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	return s.repo.DeleteByID(ctx, id)
}

// FindBySlug ищет запись сокращателя по слагу
func (s *Service) FindBySlug(ctx context.Context, slug string) (models.Negotiation, error) {
	return s.repo.FindUnique(ctx, models.Query{Role: models.RoleShortener, ShortURLSlug: slug})
}

// FindByThread ищет запись по соединению и треду
func (s *Service) FindByThread(ctx context.Context, connectionID, threadID string) (models.Negotiation, error) {
	return s.repo.FindUnique(ctx, models.Query{ConnectionID: connectionID, ThreadID: threadID})
}

// FindByShortenedURL ищет запись сокращателя по выданной ссылке
func (s *Service) FindByShortenedURL(ctx context.Context, shortenedURL string) (models.Negotiation, error) {
	return s.repo.FindUnique(ctx, models.Query{Role: models.RoleShortener, ShortenedURL: shortenedURL})
}
