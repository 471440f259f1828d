package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/uconnect/uconnect/pkg/mail"
)

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	require.NoError(t, n.SendVerificationEmail(context.Background(), "ada@campus.edu", "http://x/verify?token=abc"))
	entries := logs.FilterMessage("verification email").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ada@campus.edu", entries[0].ContextMap()["to"])

	assert.ErrorIs(t, n.SendVerificationEmail(context.Background(), " ", "u"), ErrRecipientRequired)
}

type captureMailer struct {
	sent []mail.Message
	err  error
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.sent = append(m.sent, msg)
	return m.err
}

func TestMailNotifier(t *testing.T) {
	mailer := &captureMailer{}
	n, err := NewMailNotifier(mailer, "UConnect", 48*time.Hour)
	require.NoError(t, err)

	require.NoError(t, n.SendVerificationEmail(context.Background(), "ada@campus.edu", "http://x/api/auth/verify-email?token=abc"))
	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	assert.Equal(t, []string{"ada@campus.edu"}, msg.To)
	assert.Contains(t, msg.Body, "http://x/api/auth/verify-email?token=abc")
	assert.Contains(t, msg.Body, "2 days")

	mailer.err = errors.New("smtp down")
	assert.EqualError(t, n.SendVerificationEmail(context.Background(), "ada@campus.edu", "u"), "smtp down")

	_, err = NewMailNotifier(nil, "", 0)
	assert.Error(t, err)
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "24 hours", humanDuration(0))
	assert.Equal(t, "24 hours", humanDuration(24*time.Hour))
	assert.Equal(t, "3 days", humanDuration(72*time.Hour))
	assert.Equal(t, "1 hour", humanDuration(time.Hour))
	assert.Equal(t, "12 hours", humanDuration(12*time.Hour))
	assert.Equal(t, "1m30s", humanDuration(90*time.Second))
}

type fakeChannel struct {
	declared  []string
	exchange  string
	key       string
	published []amqp.Publishing
	closed    bool
	pubErr    error
}

func (c *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange, c.key = exchange, key
	c.published = append(c.published, msg)
	return c.pubErr
}

func (c *fakeChannel) Close() error { c.closed = true; return nil }

func newTestAMQP(t *testing.T, cfg AMQPConfig, ch *fakeChannel) (*AMQPNotifier, *bool) {
	t.Helper()
	n, err := NewAMQPNotifier(cfg)
	require.NoError(t, err)
	connClosed := false
	n.dial = func(url string) (amqpChannel, func() error, error) {
		assert.Equal(t, cfg.URL, url)
		return ch, func() error { connClosed = true; return nil }, nil
	}
	n.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return n, &connClosed
}

func TestAMQPNotifierPublishesToQueue(t *testing.T) {
	ch := &fakeChannel{}
	n, connClosed := newTestAMQP(t, AMQPConfig{URL: "amqp://broker", RoutingKey: "uconnect.email.verification"}, ch)

	require.NoError(t, n.SendVerificationEmail(context.Background(), "ada@campus.edu", "http://x/verify"))

	assert.Equal(t, []string{"uconnect.email.verification"}, ch.declared)
	assert.Equal(t, "", ch.exchange)
	assert.Equal(t, "uconnect.email.verification", ch.key)
	require.Len(t, ch.published, 1)
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)

	var event VerificationEvent
	require.NoError(t, json.Unmarshal(ch.published[0].Body, &event))
	assert.Equal(t, VerificationEventType, event.Type)
	assert.Equal(t, "ada@campus.edu", event.To)
	assert.Equal(t, "http://x/verify", event.URL)
	assert.Equal(t, "UConnect", event.App)

	assert.True(t, ch.closed)
	assert.True(t, *connClosed)
}

func TestAMQPNotifierExchangeSkipsQueueDeclare(t *testing.T) {
	ch := &fakeChannel{}
	n, _ := newTestAMQP(t, AMQPConfig{URL: "amqp://broker", Exchange: "mail", RoutingKey: "verify"}, ch)

	require.NoError(t, n.SendVerificationEmail(context.Background(), "ada@campus.edu", "u"))
	assert.Empty(t, ch.declared)
	assert.Equal(t, "mail", ch.exchange)
}

func TestAMQPNotifierErrors(t *testing.T) {
	_, err := NewAMQPNotifier(AMQPConfig{RoutingKey: "k"})
	assert.Error(t, err)
	_, err = NewAMQPNotifier(AMQPConfig{URL: "amqp://x"})
	assert.Error(t, err)

	ch := &fakeChannel{pubErr: errors.New("channel closed")}
	n, _ := newTestAMQP(t, AMQPConfig{URL: "amqp://broker", RoutingKey: "k"}, ch)
	err = n.SendVerificationEmail(context.Background(), "ada@campus.edu", "u")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "channel closed"))

	n.dial = func(string) (amqpChannel, func() error, error) { return nil, nil, errors.New("refused") }
	assert.ErrorContains(t, n.SendVerificationEmail(context.Background(), "ada@campus.edu", "u"), "refused")
}
