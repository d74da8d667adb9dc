// Package models содержит сущности протокола shorten-url: запись переговоров,
// роли, состояния, стратегии сокращения и коды проблем.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidState возвращается, если запись находится в неподходящей роли или состоянии
var ErrInvalidState = errors.New("invalid state")

// Role определяет роль агента в переговорах
type Role string

const (
	RoleShortener Role = "url-shortener"
	RoleProvider  Role = "long-url-provider"
)

// State определяет состояние переговоров
type State string

const (
	StateRequestReceived    State = "request-received"
	StateShortenedURLSent   State = "shortened-url-sent"
	StateInvalidateReceived State = "invalidate-received"
	StateInvalidated        State = "invalidated"

	StateRequestSent          State = "request-sent"
	StateShortenedURLReceived State = "shortened-url-received"
	StateInvalidateSent       State = "invalidate-sent"
)

// GoalCode определяет стратегию сокращения URL
type GoalCode string

const (
	GoalShorten      GoalCode = "shorten"
	GoalShortenOobV1 GoalCode = "shorten.oobv1"
	GoalShortenOobV2 GoalCode = "shorten.oobv2"
)

// Valid сообщает, известна ли стратегия
func (g GoalCode) Valid() bool {
	switch g {
	case GoalShorten, GoalShortenOobV1, GoalShortenOobV2:
		return true
	}
	return false
}

// ProblemCode содержит коды problem-report сообщений протокола
type ProblemCode string

const (
	ProblemValidityTooLong       ProblemCode = "validity-too-long"
	ProblemInvalidURL            ProblemCode = "invalid-url"
	ProblemInvalidProtocolScheme ProblemCode = "invalid-protocol-scheme"
	ProblemInvalidGoalCode       ProblemCode = "invalid-goal-code"
	ProblemSlugsNotSupported     ProblemCode = "slugs-not-supported"
	ProblemInvalidSlug           ProblemCode = "invalid-slug"
	ProblemShortURLInvalid       ProblemCode = "short-url-invalid"
	ProblemRejectedInvalidation  ProblemCode = "rejected-invalidation"
	ProblemInvalidState          ProblemCode = "invalid-state"
)

// DeclineCodes перечисляет коды, с которыми сокращатель может отклонить запрос
var DeclineCodes = []ProblemCode{
	ProblemValidityTooLong,
	ProblemInvalidURL,
	ProblemInvalidProtocolScheme,
	ProblemInvalidGoalCode,
	ProblemSlugsNotSupported,
	ProblemInvalidSlug,
}

// IsDeclineCode сообщает, допустим ли код для отклонения запроса
func IsDeclineCode(code ProblemCode) bool {
	for _, c := range DeclineCodes {
		if c == code {
			return true
		}
	}
	return false
}

// paths задаёт единственный допустимый порядок состояний для каждой роли
var paths = map[Role][]State{
	RoleProvider:  {StateRequestSent, StateShortenedURLReceived, StateInvalidateSent},
	RoleShortener: {StateRequestReceived, StateShortenedURLSent, StateInvalidateReceived, StateInvalidated},
}

// InitialState возвращает состояние, в котором создаётся запись для роли
func InitialState(role Role) State {
	return paths[role][0]
}

// NextState возвращает следующее состояние на пути роли.
// Второй результат равен false, если состояние терминальное или не принадлежит роли.
func NextState(role Role, from State) (State, bool) {
	path := paths[role]
	for i, s := range path {
		if s == from && i+1 < len(path) {
			return path[i+1], true
		}
	}
	return "", false
}

// CanTransition проверяет, что переход выполняется ровно на один шаг вперёд
func CanTransition(role Role, from, to State) bool {
	next, ok := NextState(role, from)
	return ok && next == to
}

// Negotiation представляет запись переговоров о сокращении одного URL
type Negotiation struct {
	ID              string     `json:"id"`
	Role            Role       `json:"role"`
	State           State      `json:"state"`
	ConnectionID    string     `json:"connection_id"`
	ThreadID        string     `json:"thread_id"`
	OriginalURL     string     `json:"original_url"`
	ShortenStrategy GoalCode   `json:"shorten_strategy"`
	ShortURLSlug    string     `json:"short_url_slug,omitempty"`
	ShortenedURL    string     `json:"shortened_url,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CheckRole проверяет роль записи
func (n Negotiation) CheckRole(expected Role) error {
	if n.Role != expected {
		return fmt.Errorf("%w: record %s has role %s, expected %s", ErrInvalidState, n.ID, n.Role, expected)
	}
	return nil
}

// CheckState проверяет, что запись находится в одном из ожидаемых состояний
func (n Negotiation) CheckState(expected ...State) error {
	for _, s := range expected {
		if n.State == s {
			return nil
		}
	}
	names := make([]string, len(expected))
	for i, s := range expected {
		names[i] = string(s)
	}
	return fmt.Errorf("%w: record %s is in state %s, valid states are: %s",
		ErrInvalidState, n.ID, n.State, strings.Join(names, ", "))
}

// Clone возвращает копию записи, не разделяющую указатели с оригиналом
func (n Negotiation) Clone() Negotiation {
	if n.ExpiresAt != nil {
		t := *n.ExpiresAt
		n.ExpiresAt = &t
	}
	return n
}

// MessageRole определяет, отправили мы сообщение или получили
type MessageRole string

const (
	MessageSender   MessageRole = "sender"
	MessageReceiver MessageRole = "receiver"
)

// StoredMessage связывает протокольное сообщение с записью переговоров
type StoredMessage struct {
	RecordID    string          `json:"record_id"`
	MessageType string          `json:"message_type"`
	Role        MessageRole     `json:"role"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Query описывает ключи поиска уникальной записи. Пустые поля не участвуют в поиске.
type Query struct {
	Role         Role
	ConnectionID string
	ThreadID     string
	ShortenedURL string
	ShortURLSlug string
}

// Matches проверяет, удовлетворяет ли запись запросу
func (q Query) Matches(n Negotiation) bool {
	if q.Role != "" && q.Role != n.Role {
		return false
	}
	if q.ConnectionID != "" && q.ConnectionID != n.ConnectionID {
		return false
	}
	if q.ThreadID != "" && q.ThreadID != n.ThreadID {
		return false
	}
	if q.ShortenedURL != "" && q.ShortenedURL != n.ShortenedURL {
		return false
	}
	if q.ShortURLSlug != "" && q.ShortURLSlug != n.ShortURLSlug {
		return false
	}
	return true
}

// IsEmpty сообщает, что в запросе не задан ни один ключ
func (q Query) IsEmpty() bool {
	return q == Query{}
}
