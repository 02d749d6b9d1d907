// Package notify delivers intake events to reviewers and downstream systems.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-intake/internal/events"
)

// Message is one outbound notification.
type Message struct {
	Channel string       `json:"channel"`
	Text    string       `json:"text"`
	Event   events.Event `json:"event"`
}

// Notifier sends a message somewhere.
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	n.logger.Info("notification",
		zap.String("channel", msg.Channel),
		zap.String("event_type", string(msg.Event.Type)),
		zap.String("ticket_id", msg.Event.TicketID),
		zap.String("text", msg.Text))
	return nil
}

// WebhookNotifier POSTs messages as JSON.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

// NewWebhookNotifier builds a WebhookNotifier.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{url: url, httpClient: &http.Client{Timeout: timeout}}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// AMQPNotifier publishes messages to a RabbitMQ fanout exchange.
type AMQPNotifier struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPNotifier dials RabbitMQ and declares the exchange.
func NewAMQPNotifier(amqpURL, exchange string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPNotifier{conn: conn, channel: ch, exchange: exchange}, nil
}

func (n *AMQPNotifier) Name() string { return "amqp" }

func (n *AMQPNotifier) Send(_ context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode amqp payload: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.channel.Publish(n.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.Event.ID,
		Type:         string(msg.Event.Type),
		Timestamp:    msg.Event.Timestamp,
		Body:         body,
	})
}

// Close closes the channel and connection.
func (n *AMQPNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.channel != nil {
		n.channel.Close()
	}
	if n.conn != nil {
		n.conn.Close()
	}
}
