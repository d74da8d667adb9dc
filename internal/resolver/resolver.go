// Package resolver решает, что вернуть по запросу короткой ссылки:
// перенаправление, приглашение в JSON или "не найдено".
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tempizhere/shortenurl/internal/models"
	"github.com/tempizhere/shortenurl/internal/repository"
	"github.com/tempizhere/shortenurl/internal/shorturl"
	"go.uber.org/zap"
)

// Outcome результат разрешения ссылки
type Outcome int

const (
	OutcomeNotFound Outcome = iota
	OutcomeRedirect
	OutcomePayload
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRedirect:
		return "redirect"
	case OutcomePayload:
		return "payload"
	}
	return "not-found"
}

// Lookup ключ поиска: слаг из пути и/или _oobid из query
type Lookup struct {
	Slug  string
	OOBID string
}

// Result результат разрешения
type Result struct {
	Outcome  Outcome
	Location string
	Payload  json.RawMessage
}

// Finder ищет записи сокращателя
type Finder interface {
	FindBySlug(ctx context.Context, slug string) (models.Negotiation, error)
	FindByShortenedURL(ctx context.Context, shortenedURL string) (models.Negotiation, error)
}

// InvitationDecoder декодирует приглашение из URL
type InvitationDecoder interface {
	Decode(rawURL string) (json.RawMessage, error)
}

// Option настраивает Resolver
type Option func(*Resolver)

// WithClock задаёт источник текущего времени
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithBaseURL задаёт базовый URL коротких ссылок. Он нужен, чтобы найти
// shorten.oobv2 ссылку без слага по полному адресу с _oobid.
func WithBaseURL(baseURL string) Option {
	return func(r *Resolver) {
		r.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// Resolver реализует политику разрешения коротких ссылок
type Resolver struct {
	finder  Finder
	decoder InvitationDecoder
	logger  *zap.Logger
	baseURL string
	now     func() time.Time
}

// NewResolver создаёт новый экземпляр Resolver
func NewResolver(finder Finder, decoder InvitationDecoder, logger *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		finder:  finder,
		decoder: decoder,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var notFound = Result{Outcome: OutcomeNotFound}

// Resolve разрешает короткую ссылку
func (r *Resolver) Resolve(ctx context.Context, l Lookup) (Result, error) {
	var (
		rec   models.Negotiation
		found bool
		err   error
	)
	isOOB := l.OOBID != ""
	switch {
	case isOOB:
		rec, found, err = r.findOOB(ctx, l)
	case l.Slug != "":
		rec, found, err = r.find(ctx, l.Slug, r.finder.FindBySlug)
	}
	if err != nil {
		return notFound, err
	}
	if !found || !shorturl.IsResolvable(rec, r.now()) {
		return notFound, nil
	}

	switch {
	case isOOB && rec.ShortenStrategy == models.GoalShortenOobV2:
		return Result{Outcome: OutcomeRedirect, Location: rec.OriginalURL}, nil
	case rec.ShortenStrategy == models.GoalShorten:
		return Result{Outcome: OutcomeRedirect, Location: rec.OriginalURL}, nil
	case rec.ShortenStrategy == models.GoalShortenOobV1:
		payload, err := r.decoder.Decode(rec.OriginalURL)
		if err != nil {
			return notFound, fmt.Errorf("decode invitation of record %s: %w", rec.ID, err)
		}
		return Result{Outcome: OutcomePayload, Payload: payload}, nil
	}
	return notFound, nil
}

// findOOB ищет запись по _oobid как по слагу, затем по полному адресу ссылки
func (r *Resolver) findOOB(ctx context.Context, l Lookup) (models.Negotiation, bool, error) {
	rec, found, err := r.find(ctx, l.OOBID, r.finder.FindBySlug)
	if err != nil || found || r.baseURL == "" {
		return rec, found, err
	}

	shortened := r.baseURL
	if l.Slug != "" {
		shortened += "/" + l.Slug
	}
	shortened += "?" + shorturl.OOBIDParam + "=" + url.QueryEscape(l.OOBID)
	return r.find(ctx, shortened, r.finder.FindByShortenedURL)
}

func (r *Resolver) find(ctx context.Context, key string, lookup func(context.Context, string) (models.Negotiation, error)) (models.Negotiation, bool, error) {
	rec, err := lookup(ctx, key)
	switch {
	case err == nil:
		return rec, true, nil
	case errors.Is(err, repository.ErrNotFound):
		return models.Negotiation{}, false, nil
	case errors.Is(err, repository.ErrNotUnique):
		r.logger.Warn("Ambiguous short url lookup", zap.String("key", key))
		return models.Negotiation{}, false, nil
	}
	return models.Negotiation{}, false, err
}
