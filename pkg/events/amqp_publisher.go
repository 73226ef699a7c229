package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"digestly/pkg/domain"
)

// ReviewAlertPublisher notifies the human-review service that a flag needs
// attention. Publishing is best-effort: moderation never blocks on it.
type ReviewAlertPublisher interface {
	PublishFlag(ctx context.Context, flag domain.ModerationFlag) error
	Close() error
}

// AMQPPublisher publishes review alerts to a topic exchange, routed by
// severity so the review service can subscribe to critical flags only.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = "digestly.moderation"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

// PublishFlag emits one flag with routing key "flag.<severity>".
func (p *AMQPPublisher) PublishFlag(ctx context.Context, flag domain.ModerationFlag) error {
	body, err := json.Marshal(flag)
	if err != nil {
		return fmt.Errorf("marshal flag: %w", err)
	}
	routingKey := "flag." + string(flag.Severity)
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		MessageId:   flag.ID,
		Body:        body,
	})
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
