package alerting

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"
)

// EmailOptions parameterise the SMTP alert channel.
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailChannel delivers alerts over SMTP.
type EmailChannel struct {
	opts   EmailOptions
	logger zerolog.Logger
	// send is swappable for tests; defaults to sendSMTP.
	send func(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel constructs an SMTP alert channel.
func NewEmailChannel(opts EmailOptions, logger zerolog.Logger) *EmailChannel {
	if opts.Port <= 0 {
		opts.Port = 587
	}
	return &EmailChannel{
		opts:   opts,
		logger: logger.With().Str("component", "alert_email").Logger(),
		send:   sendSMTP,
	}
}

// Name identifies the channel in logs and the error log.
func (c *EmailChannel) Name() string { return "email" }

// Send delivers one rendered alert. The first line of the text becomes
// the subject.
func (c *EmailChannel) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := "Crypto Price Alert"
	if idx := strings.IndexByte(text, '\n'); idx > 0 {
		subject = strings.TrimSpace(text[:idx])
	}

	msg := strings.Builder{}
	msg.WriteString(fmt.Sprintf("From: %s\r\n", c.opts.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(c.opts.To, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	msg.WriteString(text)

	addr := fmt.Sprintf("%s:%d", c.opts.Host, c.opts.Port)
	var auth smtp.Auth
	if c.opts.Username != "" {
		auth = smtp.PlainAuth("", c.opts.Username, c.opts.Password, c.opts.Host)
	}

	if err := c.send(ctx, addr, auth, c.opts.From, c.opts.To, []byte(msg.String())); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	c.logger.Debug().Int("recipients", len(c.opts.To)).Msg("alert sent (email)")
	return nil
}

// sendSMTP speaks the session by hand instead of smtp.SendMail so the ctx
// deadline reaches the socket. A server that accepts and then goes silent
// fails the send when the deadline expires rather than hanging the
// dispatcher's channel goroutine.
func sendSMTP(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		conn.Close()
		return err
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}

	if auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return err
			}
		}
	}

	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}

	writer, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := writer.Write(msg); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return client.Quit()
}

var _ Channel = (*EmailChannel)(nil)
