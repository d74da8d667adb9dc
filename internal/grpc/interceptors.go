package grpc

import (
	"context"
	"strings"
	"time"

	"github.com/tempizhere/shortenurl/internal/grpc/proto"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// contextKey определяет тип для ключей контекста
type contextKey string

const peerIDKey contextKey = "peerID"

// TokenParser проверяет токен собеседника и возвращает его ID
type TokenParser interface {
	Parse(token string) (string, error)
}

// PeerAuthInterceptor создаёт интерцептор для аутентификации собеседников
func PeerAuthInterceptor(parser TokenParser, logger *zap.Logger) grpc.UnaryServerInterceptor {
	publicMethods := map[string]bool{
		proto.DiscoverMethod: true,
	}

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			logger.Warn("Missing metadata", zap.String("method", info.FullMethod))
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 || !strings.HasPrefix(authHeaders[0], "Bearer ") {
			logger.Warn("Missing peer token", zap.String("method", info.FullMethod))
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}

		peerID, err := parser.Parse(strings.TrimPrefix(authHeaders[0], "Bearer "))
		if err != nil {
			logger.Warn("Invalid peer token", zap.Error(err))
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}

		return handler(WithPeerID(ctx, peerID), req)
	}
}

// WithPeerID сохраняет ID собеседника в контексте
func WithPeerID(ctx context.Context, peerID string) context.Context {
	return context.WithValue(ctx, peerIDKey, peerID)
}

// PeerIDFromContext извлекает ID собеседника из контекста
func PeerIDFromContext(ctx context.Context) (string, bool) {
	peerID, ok := ctx.Value(peerIDKey).(string)
	return peerID, ok && peerID != ""
}

// LoggingInterceptor создаёт интерцептор для логирования gRPC запросов.
// Ставится после PeerAuthInterceptor: в лог попадает ID из проверенного токена.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		peerID, _ := PeerIDFromContext(ctx)

		var clientIP string
		if p, ok := peer.FromContext(ctx); ok {
			clientIP = p.Addr.String()
		}

		code := status.Code(err)

		logger.Info("gRPC request",
			zap.String("method", info.FullMethod),
			zap.String("client_ip", clientIP),
			zap.String("agent_id", peerID),
			zap.String("status_code", code.String()),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)

		return resp, err
	}
}
