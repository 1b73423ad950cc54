// Package notify implements the SMTP collaborator (spec §6): a single
// send operation supporting plaintext, STARTTLS, and implicit TLS, with
// optional authentication. Grounded on the original implementation's
// notification/email.py, rendered with net/smtp since no example repo in
// the pack carries a third-party mail library.
package notify

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Mailer is the SMTP collaborator contract the reporter depends on.
type Mailer interface {
	Send(from string, to []string, subject, body, replyTo string) error
}

// Client is a Mailer backed by a real SMTP server.
type Client struct {
	Server   string
	Port     int
	Username string
	Password string
	UseTLS   bool
	UseSSL   bool
	Timeout  time.Duration
}

// Send delivers one email. UseSSL takes precedence over UseTLS if both are
// set, matching the original implementation's warning-and-fallback
// behavior.
func (c Client) Send(from string, to []string, subject, body, replyTo string) error {
	if c.Server == "" {
		return fmt.Errorf("notify: SMTP server not configured")
	}
	if len(to) == 0 {
		return fmt.Errorf("notify: no recipients configured")
	}

	useSSL := c.UseSSL
	useTLS := c.UseTLS && !useSSL

	addr := net.JoinHostPort(c.Server, fmt.Sprintf("%d", c.Port))
	message := buildMessage(from, to, replyTo, subject, body)

	var auth smtp.Auth
	if c.Username != "" && c.Password != "" {
		auth = smtp.PlainAuth("", c.Username, c.Password, c.Server)
	}

	if useSSL {
		return c.sendImplicitTLS(addr, auth, from, to, message)
	}
	return c.sendPlainOrSTARTTLS(addr, auth, useTLS, from, to, message)
}

func (c Client) sendImplicitTLS(addr string, auth smtp.Auth, from string, to []string, message []byte) error {
	dialer := &net.Dialer{Timeout: c.Timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: c.Server})
	if err != nil {
		return fmt.Errorf("notify: tls dial: %w", err)
	}
	client, err := smtp.NewClient(conn, c.Server)
	if err != nil {
		return fmt.Errorf("notify: smtp client: %w", err)
	}
	defer client.Close()

	return sendOverClient(client, auth, from, to, message)
}

func (c Client) sendPlainOrSTARTTLS(addr string, auth smtp.Auth, useTLS bool, from string, to []string, message []byte) error {
	conn, err := net.DialTimeout("tcp", addr, c.Timeout)
	if err != nil {
		return fmt.Errorf("notify: dial: %w", err)
	}
	client, err := smtp.NewClient(conn, c.Server)
	if err != nil {
		return fmt.Errorf("notify: smtp client: %w", err)
	}
	defer client.Close()

	if useTLS {
		if err := client.StartTLS(&tls.Config{ServerName: c.Server}); err != nil {
			return fmt.Errorf("notify: starttls: %w", err)
		}
	}

	return sendOverClient(client, auth, from, to, message)
}

func sendOverClient(client *smtp.Client, auth smtp.Auth, from string, to []string, message []byte) error {
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("notify: auth: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("notify: mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("notify: rcpt to %q: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("notify: data: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		w.Close()
		return fmt.Errorf("notify: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("notify: close data writer: %w", err)
	}
	return client.Quit()
}

func buildMessage(from string, to []string, replyTo, subject, body string) []byte {
	if replyTo == "" {
		replyTo = from
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Reply-To: %s\r\n", replyTo)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
