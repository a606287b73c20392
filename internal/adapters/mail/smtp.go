// Package mail provides the SMTP transport for outgoing notifications.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/MyCarrier-DevOps/git-expired-branch/internal/domain"
)

// defaultTimeout bounds the connect and every SMTP command.
const defaultTimeout = 30 * time.Second

// Logger defines the logging interface for the mail adapter.
type Logger interface {
	Warn(ctx context.Context, msg string, fields map[string]interface{})
}

// SMTPTransport implements domain.MailTransport with go-mail.
// Each Send opens its own connection and makes exactly one delivery attempt.
type SMTPTransport struct {
	cfg    domain.EmailConfig
	logger Logger
	dial   gomail.DialContextFunc
	now    func() time.Time
}

// NewSMTPTransport creates a transport for cfg. Host and Port must be set.
func NewSMTPTransport(cfg domain.EmailConfig, log Logger) (*SMTPTransport, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("%w: email host is required", domain.ErrConfiguration)
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("%w: email port is required", domain.ErrConfiguration)
	}
	d := &net.Dialer{Timeout: defaultTimeout}
	return &SMTPTransport{cfg: cfg, logger: log, dial: d.DialContext, now: time.Now}, nil
}

// Send delivers msg. Any failure is wrapped in domain.ErrNotification.
func (t *SMTPTransport) Send(ctx context.Context, msg domain.Message) error {
	if err := t.send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrNotification, err)
	}
	return nil
}

func (t *SMTPTransport) send(ctx context.Context, msg domain.Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("message has no recipients")
	}

	m, err := t.newMsg(msg)
	if err != nil {
		return err
	}

	// The connection is closed when ctx ends so a stalled server cannot hold the run.
	stop := func() bool { return false }
	dial := func(dialCtx context.Context, network, address string) (net.Conn, error) {
		conn, err := t.dial(dialCtx, network, address)
		if err != nil {
			return nil, err
		}
		stop = context.AfterFunc(ctx, func() { _ = conn.Close() })
		return conn, nil
	}
	defer func() { stop() }()

	client, err := gomail.NewClient(t.cfg.Host, t.clientOptions(dial)...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	addr := net.JoinHostPort(t.cfg.Host, fmt.Sprint(t.cfg.Port))
	if err := client.DialWithContext(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}

	if err := client.Send(m); err != nil {
		_ = client.Close()
		return fmt.Errorf("deliver to %s: %w", strings.Join(msg.To, ", "), err)
	}

	// The server accepted the message; a failed QUIT does not undo that.
	if err := client.Close(); err != nil {
		t.logger.Warn(ctx, "smtp quit failed after delivery", map[string]interface{}{
			"server": addr,
			"to":     strings.Join(msg.To, ", "),
			"error":  err.Error(),
		})
	}
	return nil
}

func (t *SMTPTransport) clientOptions(dial gomail.DialContextFunc) []gomail.Option {
	opts := []gomail.Option{
		gomail.WithPort(t.cfg.Port),
		gomail.WithTimeout(defaultTimeout),
		gomail.WithDialContextFunc(dial),
	}

	if t.cfg.StartTLS {
		opts = append(opts,
			gomail.WithTLSPolicy(gomail.TLSMandatory),
			gomail.WithTLSConfig(&tls.Config{ServerName: t.cfg.Host, MinVersion: tls.VersionTLS12}),
		)
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	}

	if t.cfg.Username != "" {
		auth := gomail.SMTPAuthPlainNoEnc
		if t.cfg.StartTLS {
			auth = gomail.SMTPAuthPlain
		}
		opts = append(opts,
			gomail.WithSMTPAuth(auth),
			gomail.WithUsername(t.cfg.Username),
			gomail.WithPassword(t.cfg.Password),
		)
	}
	return opts
}

// newMsg builds a plain-text message with Date and Message-ID headers.
func (t *SMTPTransport) newMsg(msg domain.Message) (*gomail.Msg, error) {
	m := gomail.NewMsg(gomail.WithCharset(gomail.CharsetUTF8))
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("sender %q: %w", msg.From, err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("recipients %v: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(t.now())
	m.SetMessageID()
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)
	return m, nil
}
