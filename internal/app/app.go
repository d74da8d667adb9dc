// Package app содержит HTTP обработчики: разрешение коротких ссылок и административный API переговоров.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tempizhere/shortenurl/internal/models"
	"github.com/tempizhere/shortenurl/internal/repository"
	"github.com/tempizhere/shortenurl/internal/resolver"
	"github.com/tempizhere/shortenurl/internal/service"
	"github.com/tempizhere/shortenurl/internal/shorturl"
	"go.uber.org/zap"
)

// NegotiationService содержит операции, доступные через административный API
type NegotiationService interface {
	RequestShortenedURL(ctx context.Context, opts service.RequestOptions) (models.Negotiation, error)
	AcceptRequest(ctx context.Context, opts service.AcceptOptions) (models.Negotiation, error)
	DeclineRequest(ctx context.Context, opts service.DeclineOptions) (models.Negotiation, error)
	RequestInvalidation(ctx context.Context, id string) (models.Negotiation, error)
	GetByID(ctx context.Context, id string) (models.Negotiation, error)
	GetAll(ctx context.Context) ([]models.Negotiation, error)
	DeleteByID(ctx context.Context, id string) error
}

// Resolver разрешает короткую ссылку
type Resolver interface {
	Resolve(ctx context.Context, l resolver.Lookup) (resolver.Result, error)
}

// CreateRequest тело запроса на создание переговоров со стороны поставщика
type CreateRequest struct {
	ConnectionID             string          `json:"connection_id"`
	URL                      string          `json:"url"`
	GoalCode                 models.GoalCode `json:"goal_code"`
	RequestedValiditySeconds int64           `json:"requested_validity_seconds"`
	ShortURLSlug             string          `json:"short_url_slug,omitempty"`
}

// AcceptRequest тело запроса на выдачу ссылки
type AcceptRequest struct {
	ShortenedURL string `json:"shortened_url,omitempty"`
}

// DeclineRequest тело запроса на отклонение
type DeclineRequest struct {
	ProblemCode models.ProblemCode `json:"problem_code"`
	Description string             `json:"description,omitempty"`
}

// ErrorResponse тело ответа с ошибкой
type ErrorResponse struct {
	Error  string              `json:"error"`
	Record *models.Negotiation `json:"record,omitempty"`
}

// App содержит хендлеры и зависимости
type App struct {
	svc      NegotiationService
	resolver Resolver
	db       repository.Database
	logger   *zap.Logger
}

// NewApp создаёт новое приложение. db может быть nil, если хранилище не SQL.
func NewApp(svc NegotiationService, res Resolver, db repository.Database, logger *zap.Logger) *App {
	return &App{svc: svc, resolver: res, db: db, logger: logger}
}

// HandleResolve обрабатывает GET-запросы на короткие ссылки
func (a *App) HandleResolve(w http.ResponseWriter, r *http.Request) {
	lookup := resolver.Lookup{
		Slug:  chi.URLParam(r, "slug"),
		OOBID: r.URL.Query().Get(shorturl.OOBIDParam),
	}

	result, err := a.resolver.Resolve(r.Context(), lookup)
	if err != nil {
		a.logger.Error("Failed to resolve short url",
			zap.String("slug", lookup.Slug),
			zap.String("oob_id", lookup.OOBID),
			zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	switch result.Outcome {
	case resolver.OutcomeRedirect:
		http.Redirect(w, r, result.Location, http.StatusFound)
	case resolver.OutcomePayload:
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(result.Payload); err != nil {
			a.logger.Warn("Failed to write response", zap.Error(err))
		}
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// HandleCreate обрабатывает POST-запросы на "/api/negotiations"
func (a *App) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		http.Error(w, "Content-Type must be application/json", http.StatusBadRequest)
		return
	}
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	if req.GoalCode == "" {
		req.GoalCode = models.GoalShorten
	}

	rec, err := a.svc.RequestShortenedURL(r.Context(), service.RequestOptions{
		ConnectionID:             req.ConnectionID,
		URL:                      req.URL,
		GoalCode:                 req.GoalCode,
		RequestedValiditySeconds: req.RequestedValiditySeconds,
		ShortURLSlug:             req.ShortURLSlug,
	})
	if err != nil {
		a.writeError(w, err, rec)
		return
	}
	a.writeJSONResponse(w, http.StatusCreated, rec)
}

// HandleList обрабатывает GET-запросы на "/api/negotiations"
func (a *App) HandleList(w http.ResponseWriter, r *http.Request) {
	records, err := a.svc.GetAll(r.Context())
	if err != nil {
		a.writeError(w, err, models.Negotiation{})
		return
	}
	if len(records) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a.writeJSONResponse(w, http.StatusOK, records)
}

// HandleGet обрабатывает GET-запросы на "/api/negotiations/{id}"
func (a *App) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := a.svc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err, models.Negotiation{})
		return
	}
	a.writeJSONResponse(w, http.StatusOK, rec)
}

// HandleDelete обрабатывает DELETE-запросы на "/api/negotiations/{id}"
func (a *App) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteByID(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, err, models.Negotiation{})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAccept обрабатывает POST-запросы на "/api/negotiations/{id}/accept".
// Тело запроса необязательно.
func (a *App) HandleAccept(w http.ResponseWriter, r *http.Request) {
	var req AcceptRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	rec, err := a.svc.AcceptRequest(r.Context(), service.AcceptOptions{
		ID:           chi.URLParam(r, "id"),
		ShortenedURL: req.ShortenedURL,
	})
	if err != nil {
		a.writeError(w, err, rec)
		return
	}
	a.writeJSONResponse(w, http.StatusOK, rec)
}

// HandleDecline обрабатывает POST-запросы на "/api/negotiations/{id}/decline"
func (a *App) HandleDecline(w http.ResponseWriter, r *http.Request) {
	var req DeclineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	rec, err := a.svc.DeclineRequest(r.Context(), service.DeclineOptions{
		ID:          chi.URLParam(r, "id"),
		ProblemCode: req.ProblemCode,
		Description: req.Description,
	})
	if err != nil {
		a.writeError(w, err, rec)
		return
	}
	a.writeJSONResponse(w, http.StatusOK, rec)
}

// HandleInvalidate обрабатывает POST-запросы на "/api/negotiations/{id}/invalidate"
func (a *App) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	rec, err := a.svc.RequestInvalidation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err, rec)
		return
	}
	a.writeJSONResponse(w, http.StatusOK, rec)
}

// HandlePing обрабатывает GET-запросы на "/ping"
func (a *App) HandlePing(w http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		http.Error(w, "Database not configured", http.StatusInternalServerError)
		return
	}
	if err := a.db.PingContext(r.Context()); err != nil {
		a.logger.Error("Database ping failed", zap.Error(err))
		http.Error(w, "Database connection failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func decodeOptional(body io.Reader, v interface{}) error {
	err := json.NewDecoder(body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// writeError переводит ошибку сервиса в HTTP статус.
// Если запись уже сохранена, а отправка не удалась, запись возвращается в теле ответа.
func (a *App) writeError(w http.ResponseWriter, err error, rec models.Negotiation) {
	var status int
	switch {
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, service.ErrMissingShortenedURL),
		errors.Is(err, service.ErrShortenedURLInUse), errors.Is(err, repository.ErrInUse):
		status = http.StatusConflict
	case errors.Is(err, service.ErrEmptyID), errors.Is(err, service.ErrInvalidProblemCode),
		errors.Is(err, service.ErrValidityTooLong):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrDelivery):
		status = http.StatusBadGateway
	default:
		a.logger.Error("Unexpected error", zap.Error(err))
		a.writeJSONResponse(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := ErrorResponse{Error: err.Error()}
	if rec.ID != "" {
		resp.Record = &rec
	}
	a.writeJSONResponse(w, status, resp)
}

// writeJSONResponse пишет JSON-ответ с проверкой ошибок
func (a *App) writeJSONResponse(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Failed to encode JSON", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		a.logger.Warn("Failed to write response", zap.Error(err))
	}
}
