package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/unclebandit/campaign-dispatch/internal/config"
)

// SMTPTransport dials the relay once per message. The whole conversation runs under the send
// deadline; when it passes, the connection is closed and Send returns.
type SMTPTransport struct {
	host     string
	addr     string
	user     string
	password string
	ssl      bool
	from     string
	fromName string
	timeout  time.Duration
	log      *logrus.Logger
}

func NewSMTPTransport(cfg config.SMTPConfig, log *logrus.Logger) *SMTPTransport {
	return &SMTPTransport{
		host:     cfg.Host,
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		user:     cfg.User,
		password: cfg.Password,
		ssl:      cfg.Port == 465,
		from:     cfg.From,
		fromName: cfg.FromName,
		timeout:  cfg.Timeout,
		log:      log,
	}
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	messageID := fmt.Sprintf("%s@%s", uuid.NewString(), domainOf(t.from))
	m := t.build(msg, messageID)

	if err := t.deliver(ctx, msg.To, m); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ErrTransportUnavailable) {
			return "", NewTransient(ctxErr)
		}
		return "", err
	}
	t.log.WithField("to", msg.To).WithField("message_id", messageID).Debug("email sent")
	return messageID, nil
}

func (t *SMTPTransport) build(msg Message, messageID string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("Message-ID", fmt.Sprintf("<%s>", messageID))
	if t.fromName != "" {
		m.SetAddressHeader("From", t.from, t.fromName)
	} else {
		m.SetHeader("From", t.from)
	}
	if msg.ToName != "" && msg.ToName != msg.To {
		m.SetAddressHeader("To", msg.To, msg.ToName)
	} else {
		m.SetHeader("To", msg.To)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)
	return m
}

// deliver keeps connection failures apart from per-message failures so the caller can stop the batch.
func (t *SMTPTransport) deliver(ctx context.Context, to string, m *gomail.Message) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	raw := conn
	defer raw.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = raw.Close() })
	defer stop()

	if t.ssl {
		conn = tls.Client(conn, &tls.Config{ServerName: t.host})
	}
	c, err := smtp.NewClient(conn, t.host)
	if err != nil {
		return Classify(err)
	}
	defer c.Close()

	if err := c.Hello("localhost"); err != nil {
		return Classify(err)
	}
	if ok, _ := c.Extension("STARTTLS"); ok && !t.ssl {
		if err := c.StartTLS(&tls.Config{ServerName: t.host}); err != nil {
			return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
		}
	}
	if ok, _ := c.Extension("AUTH"); ok && t.user != "" {
		if err := c.Auth(smtp.PlainAuth("", t.user, t.password, t.host)); err != nil {
			return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
		}
	}

	if err := c.Mail(t.from); err != nil {
		return Classify(err)
	}
	if err := c.Rcpt(to); err != nil {
		return Classify(err)
	}
	w, err := c.Data()
	if err != nil {
		return Classify(err)
	}
	if _, err := m.WriteTo(w); err != nil {
		return Classify(err)
	}
	if err := w.Close(); err != nil {
		return Classify(err)
	}
	// accepted once DATA is closed
	_ = c.Quit()
	return nil
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return strings.Trim(addr[i+1:], "> ")
	}
	return "localhost"
}

// LogTransport only logs outgoing mail. Used for local development.
type LogTransport struct {
	log *logrus.Logger
}

func NewLogTransport(log *logrus.Logger) *LogTransport {
	return &LogTransport{log: log}
}

func (t *LogTransport) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	t.log.WithFields(logrus.Fields{
		"to":         msg.To,
		"subject":    msg.Subject,
		"message_id": id,
	}).Info("email (log transport)")
	return id, nil
}

// New picks the transport for the configured mode.
func New(cfg config.SMTPConfig, log *logrus.Logger) Transport {
	if cfg.Mode == "smtp" {
		return NewSMTPTransport(cfg, log)
	}
	return NewLogTransport(log)
}
