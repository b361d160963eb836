package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"time"

	"github.com/vote-relay/internal/config"
	"github.com/vote-relay/internal/domain"
)

// Mailer sends templated emails.
type Mailer interface {
	SendTemplatedEmail(ctx context.Context, msg domain.EmailMessage) error
}

type sendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

type mailer struct {
	host      string
	port      string
	from      string
	fromName  string
	username  string
	password  string
	timeout   time.Duration
	templates map[string]*template.Template
	send      sendFunc
}

func NewMailer(cfg *config.Config) Mailer {
	m := &mailer{
		host:      cfg.SMTPHost,
		port:      cfg.SMTPPort,
		from:      cfg.SMTPFrom,
		fromName:  cfg.SMTPFromName,
		username:  cfg.SMTPUsername,
		password:  cfg.SMTPPassword,
		timeout:   cfg.SMTPTimeout,
		templates: builtinTemplates,
	}
	m.send = m.dialAndSend
	return m
}

func (m *mailer) SendTemplatedEmail(ctx context.Context, msg domain.EmailMessage) error {
	tpl, ok := m.templates[msg.Template]
	if !ok {
		return fmt.Errorf("template %q: %w", msg.Template, domain.ErrUnknownTemplate)
	}
	if msg.To == "" {
		return domain.ErrNoEmail
	}
	var body bytes.Buffer
	if err := tpl.Execute(&body, msg.TemplateData); err != nil {
		return fmt.Errorf("render %s: %w", msg.Template, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	name := msg.Name
	if name == "" {
		name = m.fromName
	}
	from := mail.Address{Name: name, Address: m.from}

	var raw bytes.Buffer
	fmt.Fprintf(&raw, "From: %s\r\n", from.String())
	fmt.Fprintf(&raw, "To: %s\r\n", msg.To)
	fmt.Fprintf(&raw, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	raw.WriteString("MIME-Version: 1.0\r\n")
	raw.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	raw.Write(body.Bytes())

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}
	addr := fmt.Sprintf("%s:%s", m.host, m.port)
	if err := m.send(ctx, addr, auth, m.from, []string{msg.To}, raw.Bytes()); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// dialAndSend is smtp.SendMail bounded by ctx and the configured timeout.
// Cancelling ctx closes the connection, which unblocks any pending read or write.
func (m *mailer) dialAndSend(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, m.host)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Hello("localhost"); err != nil {
		return err
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
