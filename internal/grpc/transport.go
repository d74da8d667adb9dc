package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tempizhere/shortenurl/internal/grpc/proto"
	"github.com/tempizhere/shortenurl/internal/messages"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// ErrUnknownPeer возвращается, если адрес собеседника не настроен
var ErrUnknownPeer = errors.New("unknown peer")

// TokenIssuer выпускает токен, которым агент представляется собеседнику
type TokenIssuer interface {
	Issue(agentID string) (string, error)
}

// Transport доставляет исходящие сообщения собеседникам по gRPC
type Transport struct {
	agentID  string
	peers    map[string]string
	issuer   TokenIssuer
	logger   *zap.Logger
	dialOpts []grpc.DialOption

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewTransport создаёт новый экземпляр Transport.
// peers сопоставляет ID собеседника с адресом его gRPC сервера.
func NewTransport(agentID string, peers map[string]string, issuer TokenIssuer, logger *zap.Logger, dialOpts ...grpc.DialOption) *Transport {
	if len(dialOpts) == 0 {
		dialOpts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &Transport{
		agentID:  agentID,
		peers:    peers,
		issuer:   issuer,
		logger:   logger,
		dialOpts: dialOpts,
		conns:    make(map[string]*grpc.ClientConn),
	}
}

// Send отправляет сообщение собеседнику
func (t *Transport) Send(ctx context.Context, peerID string, msg messages.Message) error {
	conn, err := t.conn(peerID)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	token, err := t.issuer.Issue(t.agentID)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)

	if _, err := proto.NewAgentServiceClient(conn).Deliver(ctx, &proto.DeliverRequest{Message: raw}); err != nil {
		t.logger.Warn("Failed to deliver message",
			zap.String("peer", peerID),
			zap.String("type", msg.MessageType()),
			zap.Error(err))
		return fmt.Errorf("deliver to %s: %w", peerID, err)
	}

	t.logger.Debug("Message delivered",
		zap.String("peer", peerID),
		zap.String("type", msg.MessageType()),
		zap.String("thread_id", msg.ThreadID()))
	return nil
}

func (t *Transport) conn(peerID string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.conns[peerID]; ok {
		return conn, nil
	}

	addr, ok := t.peers[peerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}

	conn, err := grpc.NewClient(addr, t.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	t.conns[peerID] = conn
	return conn, nil
}

// Close закрывает все открытые соединения
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for id, conn := range t.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(t.conns, id)
	}
	return errors.Join(errs...)
}
