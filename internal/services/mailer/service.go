package mailer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"devsend/internal/storage"
)

// Store is the slice of the persistence API the mailer needs.
type Store interface {
	NextAPIKey(ctx context.Context, userID, preferredID int64) (*storage.APIKey, error)
	TouchAPIKey(ctx context.Context, id int64, usedAt time.Time) error
	AppendEmailLog(ctx context.Context, e storage.EmailLog) error
	GetRecipient(ctx context.Context, userID int64, email string) (*storage.Recipient, error)
}

type Service struct {
	// mu guards cfg, limiter, and sender, which can change on config
	// reload.
	mu      sync.RWMutex
	cfg     Config
	limiter *rate.Limiter
	sender  Sender

	store Store
	log   *slog.Logger

	now nowFunc
}

func New(cfg Config, store Store, sender Sender, log *slog.Logger) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:     cfg,
		store:   store,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
		now:     time.Now,
	}
}

// Apply updates the relay settings in place. A nil sender keeps the
// current transport. In-flight sends finish with the settings they
// started with.
func (s *Service) Apply(cfg Config, sender Sender) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	if cfg.RatePerSec != s.cfg.RatePerSec {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	s.cfg = cfg
	if sender != nil {
		s.sender = sender
	}
	s.mu.Unlock()
}

// SendBulk sends the templated content to every recipient in order.
// Per-recipient failures are logged and counted, never returned; the
// caller consumes only the aggregate result.
func (s *Service) SendBulk(ctx context.Context, req BulkRequest) BulkResult {
	var res BulkResult
	for _, addr := range req.Recipients {
		if ctx.Err() != nil {
			// Remaining recipients count as failed so the aggregate
			// reflects what actually went out.
			res.Failed += len(req.Recipients) - res.Sent - res.Failed
			break
		}
		if s.sendOne(ctx, addr, req) {
			res.Sent++
		} else {
			res.Failed++
		}
	}
	s.log.Info("bulk send finished",
		slog.Int64("job", req.JobID),
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed))
	return res
}

func (s *Service) sendOne(ctx context.Context, addr string, req BulkRequest) bool {
	s.mu.RLock()
	cfg := s.cfg
	limiter := s.limiter
	sender := s.sender
	s.mu.RUnlock()

	vars := s.variablesFor(ctx, addr, req)

	email := &Email{
		From:     cfg.FromEmail,
		FromName: cfg.FromName,
		To:       addr,
		Subject:  Render(req.Subject, vars),
		HTMLBody: Render(req.HTMLBody, vars),
		TextBody: Render(req.TextBody, vars),
	}

	key, err := s.store.NextAPIKey(ctx, req.UserID, req.PreferredKeyID)
	if err != nil {
		s.logOutcome(ctx, addr, email.Subject, req, 0, "api key lookup: "+err.Error())
		return false
	}
	if key == nil {
		s.logOutcome(ctx, addr, email.Subject, req, 0, "no active API key available")
		return false
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		if lastErr = sender.Send(ctx, key.Value, email); lastErr == nil {
			if err := s.store.TouchAPIKey(ctx, key.ID, s.now()); err != nil {
				s.log.Warn("api key usage update failed", slog.Int64("key", key.ID), slog.Any("err", err))
			}
			s.logOutcome(ctx, addr, email.Subject, req, key.ID, "")
			return true
		}
		s.log.Warn("send attempt failed",
			slog.String("to", addr),
			slog.Int("attempt", attempt),
			slog.Int64("job", req.JobID),
			slog.Any("err", lastErr))
	}

	reason := "send failed"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	s.logOutcome(ctx, addr, email.Subject, req, key.ID, reason)
	return false
}

// variablesFor merges the job's default placeholders with address-book
// personalization; recipient data wins, and "email" is always set.
func (s *Service) variablesFor(ctx context.Context, addr string, req BulkRequest) map[string]string {
	vars := make(map[string]string, len(req.Placeholders)+2)
	for k, v := range req.Placeholders {
		vars[k] = v
	}

	rcpt, err := s.store.GetRecipient(ctx, req.UserID, addr)
	if err != nil {
		s.log.Warn("recipient lookup failed", slog.String("email", addr), slog.Any("err", err))
	} else if rcpt != nil {
		if rcpt.Name != "" {
			vars["name"] = rcpt.Name
		}
		vars["email"] = rcpt.Email
		for k, v := range rcpt.CustomFields {
			vars[k] = v
		}
	}

	if _, ok := vars["email"]; !ok {
		vars["email"] = addr
	}
	return vars
}

func (s *Service) logOutcome(ctx context.Context, addr, subject string, req BulkRequest, keyID int64, failure string) {
	status := storage.StatusSent
	if failure != "" {
		status = storage.StatusFailed
		s.log.Error("email failed", slog.String("to", addr), slog.Int64("job", req.JobID), slog.String("reason", failure))
	}
	err := s.store.AppendEmailLog(ctx, storage.EmailLog{
		UserID:         req.UserID,
		RecipientEmail: addr,
		Subject:        subject,
		Status:         status,
		Error:          failure,
		APIKeyID:       keyID,
		TemplateID:     req.TemplateID,
		JobID:          req.JobID,
		CreatedAt:      s.now(),
	})
	if err != nil {
		s.log.Warn("email log append failed", slog.String("to", addr), slog.Any("err", err))
	}
}
