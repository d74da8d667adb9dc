// Package proto содержит определения типов для gRPC сервиса агента
package proto

import "encoding/json"

// DeliverRequest представляет запрос на доставку протокольного сообщения
type DeliverRequest struct {
	Message json.RawMessage `json:"message"`
}

// DeliverResponse представляет ответ на доставку
type DeliverResponse struct {
	Accepted bool `json:"accepted"`
}

// DiscoverRequest представляет запрос поддерживаемых протоколов
type DiscoverRequest struct{}

// Protocol описывает поддерживаемый протокол и роли агента в нём
type Protocol struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// DiscoverResponse представляет ответ со списком протоколов
type DiscoverResponse struct {
	AgentID   string     `json:"agent_id"`
	Protocols []Protocol `json:"protocols"`
}
