// Package handlers разбирает входящие протокольные сообщения и направляет их в сервис переговоров.
package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/tempizhere/shortenurl/internal/events"
	"github.com/tempizhere/shortenurl/internal/messages"
	"github.com/tempizhere/shortenurl/internal/models"
	"github.com/tempizhere/shortenurl/internal/service"
	"go.uber.org/zap"
)

// NegotiationService содержит операции сервиса, нужные для входящих сообщений
type NegotiationService interface {
	HandleRequest(ctx context.Context, peerID string, msg *messages.RequestShortenedURL) (models.Negotiation, error)
	HandleShortenedURL(ctx context.Context, peerID string, msg *messages.ShortenedURL) (models.Negotiation, error)
	HandleInvalidate(ctx context.Context, peerID string, msg *messages.InvalidateShortenedURL) (models.Negotiation, error)
	CompleteInvalidation(ctx context.Context, id string) (models.Negotiation, error)
	FindByThread(ctx context.Context, connectionID, threadID string) (models.Negotiation, error)
}

// Dispatcher обрабатывает входящие сообщения от собеседников
type Dispatcher struct {
	svc       NegotiationService
	transport service.Transport
	notifier  events.Notifier
	logger    *zap.Logger
}

// NewDispatcher создаёт новый экземпляр Dispatcher
func NewDispatcher(svc NegotiationService, transport service.Transport, notifier events.Notifier, logger *zap.Logger) *Dispatcher {
	if notifier == nil {
		notifier = events.Nop{}
	}
	return &Dispatcher{
		svc:       svc,
		transport: transport,
		notifier:  notifier,
		logger:    logger,
	}
}

// Dispatch разбирает сообщение и выполняет соответствующую операцию.
// Отказ протокола отправляется собеседнику problem-report сообщением и не считается ошибкой.
func (d *Dispatcher) Dispatch(ctx context.Context, peerID string, raw []byte) error {
	msg, err := messages.Parse(raw)
	if err != nil {
		d.logger.Warn("Rejected inbound message", zap.String("peer", peerID), zap.Error(err))
		return err
	}

	d.logger.Debug("Inbound message",
		zap.String("peer", peerID),
		zap.String("type", msg.MessageType()),
		zap.String("thread_id", msg.ThreadID()))

	err = d.route(ctx, peerID, msg)

	var pr *service.ProblemReportError
	if errors.As(err, &pr) {
		return d.reportProblem(ctx, peerID, msg, pr)
	}
	return err
}

func (d *Dispatcher) route(ctx context.Context, peerID string, msg messages.Message) error {
	switch m := msg.(type) {
	case *messages.RequestShortenedURL:
		_, err := d.svc.HandleRequest(ctx, peerID, m)
		return err
	case *messages.ShortenedURL:
		_, err := d.svc.HandleShortenedURL(ctx, peerID, m)
		return err
	case *messages.InvalidateShortenedURL:
		return d.invalidate(ctx, peerID, m)
	case *messages.Ack:
		d.logger.Info("Received ack",
			zap.String("peer", peerID),
			zap.String("thread_id", m.ThreadID()),
			zap.String("status", m.Status))
		return nil
	case *messages.ProblemReport:
		d.problemReceived(ctx, peerID, m)
		return nil
	}
	return fmt.Errorf("%w: %s", messages.ErrUnsupportedMessageType, msg.MessageType())
}

// invalidate аннулирует ссылку, подтверждает получение и завершает переговоры
func (d *Dispatcher) invalidate(ctx context.Context, peerID string, msg *messages.InvalidateShortenedURL) error {
	rec, err := d.svc.HandleInvalidate(ctx, peerID, msg)
	if err != nil {
		return err
	}
	if err := d.transport.Send(ctx, peerID, messages.NewAck(msg.ThreadID(), messages.AckStatusOK)); err != nil {
		return fmt.Errorf("send ack: %w", err)
	}
	if _, err := d.svc.CompleteInvalidation(ctx, rec.ID); err != nil {
		return err
	}
	return nil
}

func (d *Dispatcher) problemReceived(ctx context.Context, peerID string, msg *messages.ProblemReport) {
	d.logger.Warn("Received problem report",
		zap.String("peer", peerID),
		zap.String("thread_id", msg.ThreadID()),
		zap.String("code", msg.Code),
		zap.String("description", msg.Description))

	rec, err := d.svc.FindByThread(ctx, peerID, msg.ThreadID())
	if err != nil {
		rec = models.Negotiation{ConnectionID: peerID, ThreadID: msg.ThreadID()}
	}
	d.notifier.Notify(ctx, events.Event{
		Type:        events.EventProblemReportReceived,
		Record:      rec,
		ProblemCode: msg.Code,
		Description: msg.Description,
	})
}

func (d *Dispatcher) reportProblem(ctx context.Context, peerID string, msg messages.Message, pr *service.ProblemReportError) error {
	report := messages.NewProblemReport(msg.ThreadID(), string(pr.Code), pr.Description)
	if err := d.transport.Send(ctx, peerID, report); err != nil {
		return fmt.Errorf("send problem report: %w", err)
	}
	d.logger.Info("Sent problem report",
		zap.String("peer", peerID),
		zap.String("thread_id", msg.ThreadID()),
		zap.String("code", string(pr.Code)))
	return nil
}
