package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/uconnect/uconnect/pkg/logger"
)

// VerificationEventType tags messages published by AMQPNotifier.
const VerificationEventType = "email.verification"

// VerificationEvent is the JSON body published for an external mail worker.
type VerificationEvent struct {
	Type     string    `json:"type"`
	App      string    `json:"app"`
	To       string    `json:"to"`
	URL      string    `json:"url"`
	IssuedAt time.Time `json:"issued_at"`
}

// AMQPConfig configures the broker notifier.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	AppName    string
}

type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type amqpDialFunc func(url string) (amqpChannel, func() error, error)

// AMQPNotifier publishes verification events to RabbitMQ. A connection is
// opened per message since signups are infrequent.
type AMQPNotifier struct {
	cfg  AMQPConfig
	dial amqpDialFunc
	now  func() time.Time
	log  *zap.Logger
}

// NewAMQPNotifier validates cfg. With an empty exchange the routing key names
// a durable queue declared on first use.
func NewAMQPNotifier(cfg AMQPConfig) (*AMQPNotifier, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("notify: amqp url is required")
	}
	if strings.TrimSpace(cfg.RoutingKey) == "" {
		return nil, errors.New("notify: amqp routing key is required")
	}
	if cfg.AppName == "" {
		cfg.AppName = "UConnect"
	}
	return &AMQPNotifier{
		cfg:  cfg,
		dial: dialAMQP,
		now:  time.Now,
		log:  logger.WithModule("notify"),
	}, nil
}

// SendVerificationEmail implements Notifier.
func (n *AMQPNotifier) SendVerificationEmail(ctx context.Context, to, verifyURL string) error {
	if strings.TrimSpace(to) == "" {
		return ErrRecipientRequired
	}

	body, err := json.Marshal(VerificationEvent{
		Type:     VerificationEventType,
		App:      n.cfg.AppName,
		To:       to,
		URL:      verifyURL,
		IssuedAt: n.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	ch, closeConn, err := n.dial(n.cfg.URL)
	if err != nil {
		return fmt.Errorf("notify: amqp dial: %w", err)
	}
	defer func() {
		_ = ch.Close()
		if err := closeConn(); err != nil {
			n.log.Debug("amqp close failed", zap.Error(err))
		}
	}()

	if n.cfg.Exchange == "" {
		if _, err := ch.QueueDeclare(n.cfg.RoutingKey, true, false, false, false, nil); err != nil {
			return fmt.Errorf("notify: declare queue %s: %w", n.cfg.RoutingKey, err)
		}
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    n.now().UTC(),
		Type:         VerificationEventType,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, n.cfg.Exchange, n.cfg.RoutingKey, false, false, msg); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}

func dialAMQP(url string) (amqpChannel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn.Close, nil
}
