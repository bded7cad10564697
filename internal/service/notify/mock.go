package notify

import (
	"context"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

// SentMessage хранит одно перехваченное уведомление.
type SentMessage struct {
	Destination string
	Subject     string
	Body        string
}

// MockSender — конфигурируемая заглушка NotificationSender для тестов.
type MockSender struct {
	SendErr error

	SendCalls int
	Sent      []SentMessage
}

// NewMockSender возвращает mock с успешным сценарием по умолчанию.
func NewMockSender() *MockSender {
	return &MockSender{}
}

// Send возвращает заранее настроенную ошибку и запоминает сообщение.
func (m *MockSender) Send(ctx context.Context, destination, subject, body string) error {
	m.SendCalls++
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Sent = append(m.Sent, SentMessage{
		Destination: destination,
		Subject:     subject,
		Body:        body,
	})
	return nil
}

// LastBody возвращает тело последнего отправленного сообщения.
func (m *MockSender) LastBody() string {
	if len(m.Sent) == 0 {
		return ""
	}
	return m.Sent[len(m.Sent)-1].Body
}

var _ domain.NotificationSender = (*MockSender)(nil)
