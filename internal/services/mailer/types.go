package mailer

import (
	"context"
	"time"
)

// Config controls the mailer service.
type Config struct {
	Host       string
	Port       string
	Username   string
	FromEmail  string
	FromName   string
	MaxRetries int // attempts per recipient (default 3)
	RatePerSec int // outbound send rate limit (default 10)
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.Port == "" {
		c.Port = "587"
	}
	return c
}

// Email is one fully-prepared outbound message.
type Email struct {
	From     string
	FromName string
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// Sender delivers a prepared email using the given credential.
// Implementations handle the actual transport; key is the rotated
// sending credential (the SMTP password for the SMTP sender).
type Sender interface {
	Send(ctx context.Context, key string, email *Email) error
}

// BulkRequest describes one bulk send on behalf of a job.
type BulkRequest struct {
	Recipients []string
	Subject    string
	HTMLBody   string
	TextBody   string
	// Placeholders are default variable values applied to every
	// recipient; address-book personalization overrides them.
	Placeholders map[string]string
	// Attribution for the email log.
	UserID     int64
	TemplateID int64
	JobID      int64
	// PreferredKeyID pins a sending credential; 0 means rotate.
	PreferredKeyID int64
}

// BulkResult is the aggregate outcome of a bulk send.
type BulkResult struct {
	Sent   int
	Failed int
}

// clock indirection for deterministic tests.
type nowFunc func() time.Time
