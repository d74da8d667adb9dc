// Package grpc содержит gRPC сервер и клиент для обмена протокольными сообщениями между агентами
package grpc

import (
	"context"
	"errors"

	"github.com/tempizhere/shortenurl/internal/grpc/proto"
	"github.com/tempizhere/shortenurl/internal/messages"
	"github.com/tempizhere/shortenurl/internal/models"
	"github.com/tempizhere/shortenurl/internal/repository"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Dispatcher обрабатывает входящее сообщение от собеседника
type Dispatcher interface {
	Dispatch(ctx context.Context, peerID string, raw []byte) error
}

// Server реализует gRPC сервис агента
type Server struct {
	proto.UnimplementedAgentServiceServer
	dispatcher Dispatcher
	agentID    string
	logger     *zap.Logger
}

// NewServer создаёт новый gRPC сервер
func NewServer(dispatcher Dispatcher, agentID string, logger *zap.Logger) *Server {
	return &Server{
		dispatcher: dispatcher,
		agentID:    agentID,
		logger:     logger,
	}
}

// Deliver принимает протокольное сообщение от собеседника
func (s *Server) Deliver(ctx context.Context, req *proto.DeliverRequest) (*proto.DeliverResponse, error) {
	if len(req.Message) == 0 {
		return nil, status.Error(codes.InvalidArgument, "message is required")
	}

	peerID, ok := PeerIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "peer is not authenticated")
	}

	if err := s.dispatcher.Dispatch(ctx, peerID, req.Message); err != nil {
		return nil, s.mapError(err)
	}

	return &proto.DeliverResponse{Accepted: true}, nil
}

// Discover возвращает поддерживаемые протоколы и роли
func (s *Server) Discover(ctx context.Context, req *proto.DiscoverRequest) (*proto.DiscoverResponse, error) {
	return &proto.DiscoverResponse{
		AgentID: s.agentID,
		Protocols: []proto.Protocol{{
			ID:    messages.ProtocolURI,
			Roles: []string{string(models.RoleProvider), string(models.RoleShortener)},
		}},
	}, nil
}

func (s *Server) mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, messages.ErrMalformedMessage):
		return status.Error(codes.InvalidArgument, "malformed message")
	case errors.Is(err, messages.ErrUnsupportedMessageType):
		return status.Error(codes.InvalidArgument, "unsupported message type")
	case errors.Is(err, models.ErrInvalidState):
		return status.Error(codes.FailedPrecondition, "invalid state")
	case errors.Is(err, repository.ErrNotFound):
		return status.Error(codes.NotFound, "negotiation not found")
	default:
		s.logger.Error("Unexpected error", zap.Error(err))
		return status.Error(codes.Internal, "internal server error")
	}
}
