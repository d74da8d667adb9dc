// Package events доставляет уведомления о смене состояния переговоров
// подписчикам, которых регистрирует владелец сервиса.
package events

import (
	"context"
	"sync"

	"github.com/tempizhere/shortenurl/internal/models"
	"go.uber.org/zap"
)

// EventType определяет тип уведомления
type EventType string

const (
	EventStateChanged          EventType = "ShortenUrlStateChanged"
	EventProblemReportReceived EventType = "ShortenUrlProblemReportReceived"
)

// Event описывает уведомление. PreviousState пусто, если запись только что создана.
type Event struct {
	Type          EventType          `json:"type"`
	Record        models.Negotiation `json:"record"`
	PreviousState models.State       `json:"previous_state,omitempty"`
	ProblemCode   string             `json:"problem_code,omitempty"`
	Description   string             `json:"description,omitempty"`
}

// Notifier принимает уведомления от сервиса
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// NotifierFunc позволяет использовать функцию как Notifier
type NotifierFunc func(ctx context.Context, event Event)

// Notify вызывает функцию
func (f NotifierFunc) Notify(ctx context.Context, event Event) {
	f(ctx, event)
}

// Nop отбрасывает все уведомления
type Nop struct{}

// Notify ничего не делает
func (Nop) Notify(context.Context, Event) {}

// Bus рассылает уведомления подписчикам синхронно, в порядке подписки
type Bus struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[int]Notifier
	order       []int
}

// NewBus создаёт пустую шину
func NewBus() *Bus {
	return &Bus{subscribers: make(map[int]Notifier)}
}

// Subscribe регистрирует подписчика и возвращает функцию отписки
func (b *Bus) Subscribe(n Notifier) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subscribers[id] = n
	b.order = append(b.order, id)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Notify передаёт копию уведомления каждому подписчику
func (b *Bus) Notify(ctx context.Context, event Event) {
	b.mu.RLock()
	subs := make([]Notifier, 0, len(b.order))
	for _, id := range b.order {
		subs = append(subs, b.subscribers[id])
	}
	b.mu.RUnlock()

	for _, s := range subs {
		e := event
		e.Record = event.Record.Clone()
		s.Notify(ctx, e)
	}
}

// Channel возвращает подписчика, который пишет уведомления в канал без блокировки.
// Если буфер заполнен, уведомление отбрасывается и логируется.
func Channel(ch chan<- Event, logger *zap.Logger) Notifier {
	return NotifierFunc(func(_ context.Context, event Event) {
		select {
		case ch <- event:
		default:
			logger.Warn("Dropping event, channel is full",
				zap.String("type", string(event.Type)),
				zap.String("record_id", event.Record.ID))
		}
	})
}

// Logger возвращает подписчика, который пишет уведомления в лог
func Logger(logger *zap.Logger) Notifier {
	return NotifierFunc(func(_ context.Context, event Event) {
		logger.Info("Negotiation event",
			zap.String("type", string(event.Type)),
			zap.String("record_id", event.Record.ID),
			zap.String("role", string(event.Record.Role)),
			zap.String("state", string(event.Record.State)),
			zap.String("previous_state", string(event.PreviousState)),
			zap.String("problem_code", event.ProblemCode),
		)
	})
}
