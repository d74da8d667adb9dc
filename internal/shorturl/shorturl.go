// Package shorturl содержит чистые функции построения коротких URL,
// проверки слагов и предикат действительности сокращённой ссылки.
package shorturl

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tempizhere/shortenurl/internal/models"
)

var (
	ErrMissingBaseURL      = errors.New("no base URL configured")
	ErrUnsupportedScheme   = errors.New("only 'http' and 'https' are supported to create shortened urls")
	ErrUnsupportedStrategy = errors.New("unsupported shorten strategy")
)

// OOBIDParam задаёт имя query-параметра внеполосного идентификатора
const OOBIDParam = "_oobid"

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]*$`)

// TokenSource выдаёт уникальные URL-безопасные идентификаторы
type TokenSource interface {
	NewToken() string
}

// TokenFunc позволяет использовать функцию как TokenSource
type TokenFunc func() string

// NewToken вызывает функцию
func (f TokenFunc) NewToken() string {
	return f()
}

// UUIDTokens генерирует идентификаторы в формате UUID v4
type UUIDTokens struct{}

// NewToken возвращает новый UUID
func (UUIDTokens) NewToken() string {
	return uuid.NewString()
}

// ExtractScheme возвращает часть URL до первого двоеточия
func ExtractScheme(rawURL string) string {
	scheme, _, _ := strings.Cut(rawURL, ":")
	return scheme
}

// IsValidURL проверяет синтаксис абсолютного URL: схема и хост обязательны
func IsValidURL(rawURL string) bool {
	if strings.TrimSpace(rawURL) != rawURL {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// IsValidSlug проверяет, что слаг состоит только из [A-Za-z0-9_-]
func IsValidSlug(slug string) bool {
	return slugPattern.MatchString(slug)
}

// Build строит короткий URL для стратегии. Пустой slug означает, что он не задан.
func Build(strategy models.GoalCode, baseURL, slug string, tokens TokenSource) (string, error) {
	if baseURL == "" {
		return "", ErrMissingBaseURL
	}
	if scheme := ExtractScheme(baseURL); scheme != "http" && scheme != "https" {
		return "", ErrUnsupportedScheme
	}
	if tokens == nil {
		tokens = UUIDTokens{}
	}

	switch strategy {
	case models.GoalShorten, models.GoalShortenOobV1:
		if slug == "" {
			slug = tokens.NewToken()
		}
		return baseURL + "/" + slug, nil
	case models.GoalShortenOobV2:
		if slug != "" {
			return baseURL + "/" + slug + "?" + OOBIDParam + "=" + tokens.NewToken(), nil
		}
		return baseURL + "?" + OOBIDParam + "=" + tokens.NewToken(), nil
	}
	return "", ErrUnsupportedStrategy
}

// IsResolvable сообщает, может ли сокращённая ссылка быть разрешена в момент now
func IsResolvable(rec models.Negotiation, now time.Time) bool {
	if rec.State != models.StateShortenedURLSent {
		return false
	}
	if rec.ExpiresAt != nil && rec.ExpiresAt.Before(now) {
		return false
	}
	return true
}
