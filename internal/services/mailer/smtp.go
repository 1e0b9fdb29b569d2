package mailer

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/smtp"
	"strings"
)

// header-injection guard: strip CR/LF (and their encoded forms) from
// values that end up in SMTP envelopes and headers.
var headerReplacer = strings.NewReplacer("\r\n", "", "\r", "", "\n", "", "%0a", "", "%0d", "")

const altBoundary = "==alt-boundary-devsend-mailer"

// smtpSender delivers mail over SMTP. The per-send key is used as the
// PlainAuth password; with an empty username the sender dials without
// authentication (local relays, test servers).
type smtpSender struct {
	host     string
	port     string
	username string
}

// NewSMTPSender returns a Sender that talks to host:port, authenticating
// as username with the rotated key as password.
func NewSMTPSender(host, port, username string) Sender {
	return &smtpSender{host: host, port: port, username: username}
}

func (s *smtpSender) Send(ctx context.Context, key string, email *Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if email == nil || email.To == "" {
		return fmt.Errorf("smtp: empty recipient")
	}

	from := headerReplacer.Replace(email.From)
	to := headerReplacer.Replace(email.To)
	msg := composeMail(from, email.FromName, to, email.Subject, email.HTMLBody, email.TextBody)

	addr := s.host + ":" + s.port
	if s.username == "" {
		return s.sendWithNoAuth(addr, from, to, msg)
	}
	auth := smtp.PlainAuth("", s.username, key, s.host)
	return smtp.SendMail(addr, auth, from, []string{to}, msg)
}

func (s *smtpSender) sendWithNoAuth(addr, from, to string, msg []byte) error {
	c, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Close()
	}()
	if err = c.Mail(from); err != nil {
		return err
	}
	if err = c.Rcpt(to); err != nil {
		return err
	}
	wc, err := c.Data()
	if err != nil {
		return err
	}
	if _, err = wc.Write(msg); err != nil {
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// composeMail builds a multipart/alternative message with an optional
// plain-text part followed by the HTML part.
func composeMail(from, fromName, to, subject, htmlBody, textBody string) []byte {
	var b strings.Builder

	sender := from
	if fromName != "" {
		sender = headerReplacer.Replace(fromName) + " <" + from + ">"
	}

	b.WriteString("To: " + to + "\r\n")
	b.WriteString("From: " + sender + "\r\n")
	b.WriteString("Subject: " + headerReplacer.Replace(subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/alternative;\r\n")
	b.WriteString("  boundary=\"" + altBoundary + "\"\r\n\r\n")

	if textBody != "" {
		b.WriteString("--" + altBoundary + "\r\n")
		b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
		b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		b.WriteString(base64.StdEncoding.EncodeToString([]byte(textBody)))
		b.WriteString("\r\n")
	}

	b.WriteString("--" + altBoundary + "\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	b.WriteString(base64.StdEncoding.EncodeToString([]byte(htmlBody)))
	b.WriteString("\r\n\r\n--" + altBoundary + "--\r\n")

	return []byte(b.String())
}
