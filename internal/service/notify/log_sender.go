package notify

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

// LogSender пишет уведомления в лог вместо реальной доставки.
// Используется в dev-окружении и как fallback, когда SMTP не настроен.
type LogSender struct {
	logger *log.Entry
}

// NewLogSender создаёт лог-отправителя уведомлений.
func NewLogSender(logger *log.Entry) *LogSender {
	if logger == nil {
		logger = log.New().WithField("component", "notify")
	}
	return &LogSender{logger: logger}
}

// Send записывает уведомление в лог и всегда успешен.
func (s *LogSender) Send(ctx context.Context, destination, subject, body string) error {
	s.logger.WithFields(log.Fields{
		"destination": destination,
		"subject":     subject,
	}).Info(body)
	return nil
}

var _ domain.NotificationSender = (*LogSender)(nil)
