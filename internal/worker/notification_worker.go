package worker

import (
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-intake/internal/config"
	"github.com/spec-kit/ticket-intake/internal/events"
	"github.com/spec-kit/ticket-intake/internal/notify"
	"github.com/spec-kit/ticket-intake/internal/service"
)

const webhookTimeout = 10 * time.Second

// StartNotificationWorker builds the configured notifiers and subscribes
// them to intake events. The returned func releases broker connections.
func StartNotificationWorker(dispatcher events.Dispatcher, cfg config.NotificationConfig, logger *zap.Logger) (func(), error) {
	notifiers := []notify.Notifier{notify.NewLogNotifier(logger)}
	closer := func() {}

	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.WebhookURL, webhookTimeout))
	}
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return closer, err
		}
		notifiers = append(notifiers, amqpNotifier)
		closer = amqpNotifier.Close
	}

	names := make([]string, 0, len(notifiers))
	for _, n := range notifiers {
		names = append(names, n.Name())
	}
	logger.Info("notifiers registered", zap.Strings("notifiers", names))

	service.NewNotificationService(dispatcher, notifiers, logger, cfg).RegisterHandlers()
	return closer, nil
}
