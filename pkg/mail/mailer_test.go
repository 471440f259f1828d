package mail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type nopWriteCloser struct{ *bytes.Buffer }

func (nopWriteCloser) Close() error { return nil }

type recordingClient struct {
	from  string
	rcpts []string
	data  bytes.Buffer
	quit  bool
}

func (c *recordingClient) Mail(from string) error { c.from = from; return nil }
func (c *recordingClient) Rcpt(to string) error   { c.rcpts = append(c.rcpts, to); return nil }
func (c *recordingClient) Data() (io.WriteCloser, error) {
	return nopWriteCloser{&c.data}, nil
}
func (c *recordingClient) Quit() error          { c.quit = true; return nil }
func (c *recordingClient) Close() error         { return nil }
func (c *recordingClient) Auth(smtp.Auth) error { return nil }

func newRecordingMailer(t *testing.T) (*smtpMailer, *recordingClient) {
	t.Helper()
	m, err := NewSMTPMailer(SMTPSettings{
		Enabled: true,
		Host:    "smtp.campus.edu",
		Port:    587,
		From:    "no-reply@campus.edu",
	})
	require.NoError(t, err)

	client := &recordingClient{}
	sm := m.(*smtpMailer)
	sm.dialFn = func(context.Context, SMTPSettings) (net.Conn, smtpClient, error) {
		server, conn := net.Pipe()
		t.Cleanup(func() { _ = server.Close() })
		return conn, client, nil
	}
	return sm, client
}

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.ErrorContains(t, err, "host is required")

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.campus.edu"})
	require.ErrorContains(t, err, "port is required")

	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, mailer)
}

func TestSMTPMailerSendDisabled(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{
		To:      []string{"test@campus.edu"},
		Subject: "Test",
		Body:    "Hello",
	})
	require.True(t, errors.Is(err, ErrSMTPDisabled))
}

func TestSMTPMailerDefaultTimeout(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{
		Enabled: true,
		Host:    "smtp.campus.edu",
		Port:    465,
		UseTLS:  true,
	})
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, mailer.(*smtpMailer).cfg.Timeout)
}

func TestSMTPMailerSendValidation(t *testing.T) {
	sm, _ := newRecordingMailer(t)

	err := sm.Send(context.Background(), Message{To: []string{"   ", "\t"}})
	require.ErrorContains(t, err, "at least one recipient")

	err = sm.Send(context.Background(), Message{From: "invalid-from", To: []string{"user@campus.edu"}})
	require.ErrorContains(t, err, "invalid from address")

	err = sm.Send(context.Background(), Message{To: []string{"user@campus.edu", "bad-address"}})
	require.ErrorContains(t, err, "invalid recipient address")
}

func TestSMTPMailerSendWritesEnvelope(t *testing.T) {
	sm, client := newRecordingMailer(t)

	err := sm.Send(context.Background(), Message{
		To:      []string{"Student@campus.edu", "student@campus.edu"},
		Subject: "Hi",
		Body:    "plain body",
	})
	require.NoError(t, err)
	require.Equal(t, "no-reply@campus.edu", client.from)
	require.Equal(t, []string{"Student@campus.edu"}, client.rcpts)
	require.True(t, client.quit)
	require.Contains(t, client.data.String(), "plain body")
}

func TestSMTPMailerSendHonoursCancelledContext(t *testing.T) {
	sm, client := newRecordingMailer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sm.Send(ctx, Message{To: []string{"user@campus.edu"}})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, client.from)
}

func TestFormatMessage(t *testing.T) {
	content := formatMessage("from@campus.edu", []string{"to@campus.edu"}, Message{Subject: "Subject\r\nBreak", Body: "Body"})
	require.Contains(t, content, "From: from@campus.edu")
	require.Contains(t, content, "Subject: Subject  Break")
	require.Contains(t, content, "text/plain; charset=UTF-8")
	require.True(t, strings.HasSuffix(content, "Body"))
}

func TestFormatMessageMultipart(t *testing.T) {
	content := formatMessage("from@campus.edu", []string{"to@campus.edu"}, Message{Subject: "S", Body: "plain", HTML: "<p>rich</p>"})
	require.Contains(t, content, "multipart/alternative")
	require.Contains(t, content, "plain")
	require.Contains(t, content, "<p>rich</p>")
	require.True(t, strings.HasSuffix(content, "--"+mixedBoundary+"--\r\n"))
}

func TestUniqueAddresses(t *testing.T) {
	addresses := []string{"alice@campus.edu", "bob@campus.edu", " alice@campus.edu ", "", "BOB@campus.edu"}
	require.Equal(t, []string{"alice@campus.edu", "bob@campus.edu"}, uniqueAddresses(addresses))
}

func TestVerificationMessage(t *testing.T) {
	msg, err := VerificationMessage("UConnect", "kim@campus.edu", "http://localhost:8000/api/auth/verify-email?token=a&email=kim%40campus.edu", "24h0m0s")
	require.NoError(t, err)
	require.Equal(t, []string{"kim@campus.edu"}, msg.To)
	require.Contains(t, msg.Subject, "UConnect")
	require.Contains(t, msg.Body, "token=a")
	require.Contains(t, msg.HTML, "token=a&amp;email=kim%40campus.edu")
}
