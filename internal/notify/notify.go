// Package notify delivers verification emails through the configured channel.
// Every implementation is best effort: callers schedule it on the task
// dispatcher and only log failures.
package notify

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/uconnect/uconnect/pkg/logger"
	"github.com/uconnect/uconnect/pkg/mail"
)

// ErrRecipientRequired is returned when no address is given.
var ErrRecipientRequired = errors.New("notify: recipient is required")

// Notifier sends the verification link to a freshly registered address.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, to, verifyURL string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, to, verifyURL string) error

// SendVerificationEmail implements Notifier.
func (f NotifierFunc) SendVerificationEmail(ctx context.Context, to, verifyURL string) error {
	return f(ctx, to, verifyURL)
}

// LogNotifier writes links to the log instead of sending them. It is the
// default for local development.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier returns a notifier that logs at info level.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = logger.WithModule("notify")
	}
	return &LogNotifier{log: log}
}

// SendVerificationEmail implements Notifier.
func (n *LogNotifier) SendVerificationEmail(_ context.Context, to, verifyURL string) error {
	if strings.TrimSpace(to) == "" {
		return ErrRecipientRequired
	}
	n.log.Info("verification email", zap.String("to", to), zap.String("url", verifyURL))
	return nil
}

// MailNotifier renders the verification template and sends it over SMTP.
type MailNotifier struct {
	mailer  mail.Mailer
	appName string
	ttl     time.Duration
}

// NewMailNotifier wraps mailer. ttl is only used for the expiry hint in the body.
func NewMailNotifier(mailer mail.Mailer, appName string, ttl time.Duration) (*MailNotifier, error) {
	if mailer == nil {
		return nil, errors.New("notify: mailer is required")
	}
	if appName == "" {
		appName = "UConnect"
	}
	return &MailNotifier{mailer: mailer, appName: appName, ttl: ttl}, nil
}

// SendVerificationEmail implements Notifier.
func (n *MailNotifier) SendVerificationEmail(ctx context.Context, to, verifyURL string) error {
	if strings.TrimSpace(to) == "" {
		return ErrRecipientRequired
	}
	msg, err := mail.VerificationMessage(n.appName, to, verifyURL, humanDuration(n.ttl))
	if err != nil {
		return err
	}
	return n.mailer.Send(ctx, msg)
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "24 hours"
	case d%(24*time.Hour) == 0 && d >= 24*time.Hour:
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "24 hours"
		}
		return strconv.Itoa(days) + " days"
	case d%time.Hour == 0:
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return strconv.Itoa(hours) + " hours"
	default:
		return d.String()
	}
}
