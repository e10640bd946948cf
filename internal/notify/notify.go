// Пакет notify — уведомление владельцев о принудительном check-in
// их документов (bulk-очистка sweeper'ом).
package notify

import (
	"context"
	"log/slog"
)

// Notification — уведомление пользователю о завершённом check-in.
type Notification struct {
	// Owner — username владельца checkout'а
	Owner string
	// Filename — имя файла на момент check-in
	Filename string
	// InfoURL — происхождение использования документа
	InfoURL string
}

// Notifier — отправка уведомлений владельцам.
// Реализация подключается при сборке приложения; по умолчанию — LogNotifier.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier пишет уведомления в структурированный лог.
// Замена для интеграции с почтовым шлюзом или шиной сообщений.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier создаёт уведомитель, пишущий в лог.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(slog.String("component", "notifier"))}
}

// Notify пишет уведомление в лог.
func (n *LogNotifier) Notify(_ context.Context, msg Notification) {
	n.logger.Info("Документ возвращён в Documenten API, локальная копия удалена",
		slog.String("owner", msg.Owner),
		slog.String("filename", msg.Filename),
		slog.String("info_url", msg.InfoURL),
	)
}
