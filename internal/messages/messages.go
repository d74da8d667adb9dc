// Package messages описывает протокольные сообщения shorten-url 1.0 и их
// проверку на входе: Parse возвращает уже проверенное типизированное сообщение.
package messages

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tempizhere/shortenurl/internal/shorturl"
)

var (
	ErrMalformedMessage       = errors.New("malformed message")
	ErrUnsupportedMessageType = errors.New("unsupported message type")
)

const (
	// ProtocolURI идентифицирует протокол shorten-url
	ProtocolURI = "https://didcomm.org/shorten-url/1.0"

	TypeRequestShortenedURL    = ProtocolURI + "/request-shortened-url"
	TypeShortenedURL           = ProtocolURI + "/shortened-url"
	TypeInvalidateShortenedURL = ProtocolURI + "/invalidate-shortened-url"
	TypeProblemReport          = "https://didcomm.org/notification/1.0/problem-report"
	TypeAck                    = "https://didcomm.org/notification/1.0/ack"
)

// AckStatusOK подтверждает успешную обработку
const AckStatusOK = "OK"

// Message реализуется всеми протокольными сообщениями
type Message interface {
	MessageID() string
	MessageType() string
	ThreadID() string
}

// Thread хранит декоратор треда
type Thread struct {
	ThreadID string `json:"thid,omitempty"`
}

// Header содержит общие поля конверта
type Header struct {
	ID     string  `json:"@id"`
	Type   string  `json:"@type"`
	Thread *Thread `json:"~thread,omitempty"`
}

// MessageID возвращает идентификатор сообщения
func (h Header) MessageID() string { return h.ID }

// MessageType возвращает URI типа сообщения
func (h Header) MessageType() string { return h.Type }

// ThreadID возвращает идентификатор треда; без декоратора тредом считается само сообщение
func (h Header) ThreadID() string {
	if h.Thread != nil && h.Thread.ThreadID != "" {
		return h.Thread.ThreadID
	}
	return h.ID
}

func newHeader(messageType, threadID string) Header {
	h := Header{ID: uuid.NewString(), Type: messageType}
	if threadID != "" {
		h.Thread = &Thread{ThreadID: threadID}
	}
	return h
}

// RequestShortenedURL запрашивает сокращение URL
type RequestShortenedURL struct {
	Header
	URL                      string `json:"url"`
	RequestedValiditySeconds int64  `json:"requested_validity_seconds"`
	GoalCode                 string `json:"goal_code"`
	ShortURLSlug             string `json:"short_url_slug,omitempty"`
}

// NewRequestShortenedURL создаёт запрос; тредом становится идентификатор самого сообщения
func NewRequestShortenedURL(url string, validitySeconds int64, goalCode, slug string) *RequestShortenedURL {
	return &RequestShortenedURL{
		Header:                   newHeader(TypeRequestShortenedURL, ""),
		URL:                      url,
		RequestedValiditySeconds: validitySeconds,
		GoalCode:                 goalCode,
		ShortURLSlug:             slug,
	}
}

// ShortenedURL передаёт сокращённый URL в ответ на запрос
type ShortenedURL struct {
	Header
	ShortenedURL string `json:"shortened_url"`
	// ExpiresTime задаётся в миллисекундах Unix
	ExpiresTime *int64 `json:"expires_time,omitempty"`
}

// NewShortenedURL создаёт ответ в треде запроса
func NewShortenedURL(threadID, shortenedURL string, expiresAt *time.Time) *ShortenedURL {
	msg := &ShortenedURL{
		Header:       newHeader(TypeShortenedURL, threadID),
		ShortenedURL: shortenedURL,
	}
	if expiresAt != nil {
		ms := expiresAt.UnixMilli()
		msg.ExpiresTime = &ms
	}
	return msg
}

// ExpiresAt возвращает время истечения или nil
func (m *ShortenedURL) ExpiresAt() *time.Time {
	if m.ExpiresTime == nil {
		return nil
	}
	t := time.UnixMilli(*m.ExpiresTime).UTC()
	return &t
}

// InvalidateShortenedURL просит аннулировать сокращённый URL
type InvalidateShortenedURL struct {
	Header
	ShortenedURL string `json:"shortened_url"`
}

// NewInvalidateShortenedURL создаёт запрос на аннулирование в треде переговоров
func NewInvalidateShortenedURL(threadID, shortenedURL string) *InvalidateShortenedURL {
	return &InvalidateShortenedURL{
		Header:       newHeader(TypeInvalidateShortenedURL, threadID),
		ShortenedURL: shortenedURL,
	}
}

// ProblemReport сообщает собеседнику о проблеме
type ProblemReport struct {
	Header
	Code        string `json:"code"`
	Description string `json:"description"`
}

// NewProblemReport создаёт отчёт о проблеме в указанном треде
func NewProblemReport(threadID, code, description string) *ProblemReport {
	return &ProblemReport{
		Header:      newHeader(TypeProblemReport, threadID),
		Code:        code,
		Description: description,
	}
}

// Ack подтверждает получение сообщения
type Ack struct {
	Header
	Status string `json:"status"`
}

// NewAck создаёт подтверждение в указанном треде
func NewAck(threadID, status string) *Ack {
	return &Ack{
		Header: newHeader(TypeAck, threadID),
		Status: status,
	}
}

// Parse разбирает конверт и проверяет схему сообщения
func Parse(raw []byte) (Message, error) {
	var header Header
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if header.ID == "" || header.Type == "" {
		return nil, fmt.Errorf("%w: @id and @type are required", ErrMalformedMessage)
	}

	switch header.Type {
	case TypeRequestShortenedURL:
		msg, err := parseRequest(raw)
		if err != nil {
			return nil, err
		}
		return msg, nil
	case TypeShortenedURL:
		msg, err := parseShortenedURL(raw)
		if err != nil {
			return nil, err
		}
		return msg, nil
	case TypeInvalidateShortenedURL:
		msg, err := parseInvalidate(raw)
		if err != nil {
			return nil, err
		}
		return msg, nil
	case TypeProblemReport:
		var msg ProblemReport
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if msg.Code == "" {
			return nil, fmt.Errorf("%w: problem report code is required", ErrMalformedMessage)
		}
		return &msg, nil
	case TypeAck:
		var msg Ack
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if msg.Status == "" {
			return nil, fmt.Errorf("%w: ack status is required", ErrMalformedMessage)
		}
		return &msg, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedMessageType, header.Type)
}

// parseRequest проверяет наличие и типы полей запроса.
// Синтаксис URL и стратегия проверяются протоколом и приводят к problem-report.
func parseRequest(raw []byte) (*RequestShortenedURL, error) {
	var aux struct {
		Header
		URL                      *string `json:"url"`
		RequestedValiditySeconds *int64  `json:"requested_validity_seconds"`
		GoalCode                 *string `json:"goal_code"`
		ShortURLSlug             *string `json:"short_url_slug"`
	}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if aux.URL == nil {
		return nil, fmt.Errorf("%w: url is required", ErrMalformedMessage)
	}
	if aux.RequestedValiditySeconds == nil || *aux.RequestedValiditySeconds < 0 {
		return nil, fmt.Errorf("%w: requested_validity_seconds must be a non-negative number", ErrMalformedMessage)
	}
	if aux.GoalCode == nil {
		return nil, fmt.Errorf("%w: goal_code is required", ErrMalformedMessage)
	}

	msg := &RequestShortenedURL{
		Header:                   aux.Header,
		URL:                      *aux.URL,
		RequestedValiditySeconds: *aux.RequestedValiditySeconds,
		GoalCode:                 *aux.GoalCode,
	}
	if aux.ShortURLSlug != nil {
		msg.ShortURLSlug = *aux.ShortURLSlug
	}
	return msg, nil
}

func parseShortenedURL(raw []byte) (*ShortenedURL, error) {
	var msg ShortenedURL
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Thread == nil || msg.Thread.ThreadID == "" {
		return nil, fmt.Errorf("%w: shortened-url must reference the request thread", ErrMalformedMessage)
	}
	if !shorturl.IsValidURL(msg.ShortenedURL) {
		return nil, fmt.Errorf("%w: shortened_url must be a URL", ErrMalformedMessage)
	}
	return &msg, nil
}

func parseInvalidate(raw []byte) (*InvalidateShortenedURL, error) {
	var msg InvalidateShortenedURL
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if !shorturl.IsValidURL(msg.ShortenedURL) {
		return nil, fmt.Errorf("%w: shortened_url must be a URL", ErrMalformedMessage)
	}
	return &msg, nil
}
