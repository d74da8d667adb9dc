package service_test

import (
	"context"
	"fmt"

	"github.com/tempizhere/shortenurl/internal/events"
	"github.com/tempizhere/shortenurl/internal/messages"
	"github.com/tempizhere/shortenurl/internal/models"
	"github.com/tempizhere/shortenurl/internal/repository"
	"github.com/tempizhere/shortenurl/internal/service"
	"github.com/tempizhere/shortenurl/internal/shorturl"
	"go.uber.org/zap"
)

// printTransport печатает тип отправленного сообщения
type printTransport struct{}

func (printTransport) Send(_ context.Context, peerID string, msg messages.Message) error {
	fmt.Printf("-> %s: %s\n", peerID, msg.MessageType())
	return nil
}

// ExampleService_AcceptRequest демонстрирует обработку запроса сокращателем
func ExampleService_AcceptRequest() {
	ctx := context.Background()
	svc := service.NewService(
		repository.NewMemoryRepository(),
		printTransport{},
		events.Nop{},
		zap.NewNop(),
		service.WithBaseURL("https://s.example"),
		service.WithTokenSource(shorturl.TokenFunc(func() string { return "Xy12" })),
	)

	req := messages.NewRequestShortenedURL("https://example.com/very-long-url", 0, "shorten", "")
	rec, err := svc.HandleRequest(ctx, "provider", req)
	if err != nil {
		fmt.Printf("Ошибка: %v\n", err)
		return
	}
	fmt.Printf("Состояние: %s, слаг: %s\n", rec.State, rec.ShortURLSlug)

	rec, err = svc.AcceptRequest(ctx, service.AcceptOptions{ID: rec.ID})
	if err != nil {
		fmt.Printf("Ошибка: %v\n", err)
		return
	}
	fmt.Printf("Состояние: %s\n", rec.State)
	fmt.Printf("Короткий URL: %s\n", rec.ShortenedURL)

	// Output:
	// Состояние: request-received, слаг: Xy12
	// -> provider: https://didcomm.org/shorten-url/1.0/shortened-url
	// Состояние: shortened-url-sent
	// Короткий URL: https://s.example/Xy12
}

// ExampleService_HandleRequest демонстрирует отказ по некорректному запросу
func ExampleService_HandleRequest() {
	svc := service.NewService(repository.NewMemoryRepository(), printTransport{}, nil, zap.NewNop())

	req := messages.NewRequestShortenedURL("https://example.com/invite", 0, string(models.GoalShortenOobV1), "")
	_, err := svc.HandleRequest(context.Background(), "provider", req)
	fmt.Println(err)

	// Output:
	// invalid-url: shorten.oobv1 requires an out-of-band invitation url
}
