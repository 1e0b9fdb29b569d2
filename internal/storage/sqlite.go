package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"devsend/internal/schedule"
	logx "devsend/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Jobs ----

const jobColumns = `id, user_id, name, template_id, recipients, schedule_type,
	schedule_time, cron_expression, custom_data, is_active, next_run, last_run, created_at`

func (s *sqliteStore) GetJob(ctx context.Context, id int64) (*ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *sqliteStore) ListActiveJobs(ctx context.Context) ([]ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *sqliteStore) SaveJob(ctx context.Context, job *ScheduledJob) error {
	if job == nil {
		return errors.New("nil job")
	}
	recipients, err := json.Marshal(job.Recipients)
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}
	custom, err := encodeMap(job.CustomData)
	if err != nil {
		return fmt.Errorf("encode custom data: %w", err)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	if job.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO scheduled_jobs(user_id, name, template_id, recipients, schedule_type,
			   schedule_time, cron_expression, custom_data, is_active, next_run, last_run, created_at)
			 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
			job.UserID, job.Name, job.TemplateID, string(recipients), job.ScheduleType.String(),
			nullTime(job.ScheduleTime), nullStr(job.CronExpr), custom, job.IsActive,
			nullTime(job.NextRun), nullTime(job.LastRun), fmtTime(job.CreatedAt),
		)
		if err != nil {
			return err
		}
		job.ID, err = res.LastInsertId()
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs(id, user_id, name, template_id, recipients, schedule_type,
		   schedule_time, cron_expression, custom_data, is_active, next_run, last_run, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   user_id=excluded.user_id, name=excluded.name, template_id=excluded.template_id,
		   recipients=excluded.recipients, schedule_type=excluded.schedule_type,
		   schedule_time=excluded.schedule_time, cron_expression=excluded.cron_expression,
		   custom_data=excluded.custom_data, is_active=excluded.is_active,
		   next_run=excluded.next_run, last_run=excluded.last_run`,
		job.ID, job.UserID, job.Name, job.TemplateID, string(recipients), job.ScheduleType.String(),
		nullTime(job.ScheduleTime), nullStr(job.CronExpr), custom, job.IsActive,
		nullTime(job.NextRun), nullTime(job.LastRun), fmtTime(job.CreatedAt),
	)
	return err
}

func (s *sqliteStore) DeleteJob(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) UpdateJobRun(ctx context.Context, id int64, lastRun, nextRun time.Time, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET last_run = ?, next_run = ?, is_active = ? WHERE id = ?`,
		nullTime(lastRun), nullTime(nextRun), active, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %d not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*ScheduledJob, error) {
	var (
		job          ScheduledJob
		kindRaw      string
		recipientsJS string
		schedAt      sql.NullString
		cronExpr     sql.NullString
		customJS     sql.NullString
		nextRun      sql.NullString
		lastRun      sql.NullString
		createdAt    string
	)
	err := row.Scan(&job.ID, &job.UserID, &job.Name, &job.TemplateID, &recipientsJS, &kindRaw,
		&schedAt, &cronExpr, &customJS, &job.IsActive, &nextRun, &lastRun, &createdAt)
	if err != nil {
		return nil, err
	}

	job.ScheduleType, err = schedule.ParseKind(kindRaw)
	if err != nil {
		return nil, fmt.Errorf("job %d: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(recipientsJS), &job.Recipients); err != nil {
		return nil, fmt.Errorf("job %d: decode recipients: %w", job.ID, err)
	}
	job.CustomData, err = decodeMap(customJS)
	if err != nil {
		return nil, fmt.Errorf("job %d: decode custom data: %w", job.ID, err)
	}
	job.CronExpr = cronExpr.String
	if job.ScheduleTime, err = parseNullTime(schedAt); err != nil {
		return nil, fmt.Errorf("job %d: schedule_time: %w", job.ID, err)
	}
	if job.NextRun, err = parseNullTime(nextRun); err != nil {
		return nil, fmt.Errorf("job %d: next_run: %w", job.ID, err)
	}
	if job.LastRun, err = parseNullTime(lastRun); err != nil {
		return nil, fmt.Errorf("job %d: last_run: %w", job.ID, err)
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("job %d: created_at: %w", job.ID, err)
	}
	return &job, nil
}

// ---- Templates ----

func (s *sqliteStore) GetTemplate(ctx context.Context, id int64) (*EmailTemplate, error) {
	var (
		t        EmailTemplate
		textBody sql.NullString
		created  string
		updated  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, subject, html_body, text_body, created_at, updated_at
		 FROM email_templates WHERE id = ?`, id).
		Scan(&t.ID, &t.UserID, &t.Name, &t.Subject, &t.HTMLBody, &textBody, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.TextBody = textBody.String
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *sqliteStore) SaveTemplate(ctx context.Context, t *EmailTemplate) error {
	if t == nil {
		return errors.New("nil template")
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	if t.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO email_templates(user_id, name, subject, html_body, text_body, created_at, updated_at)
			 VALUES(?,?,?,?,?,?,?)`,
			t.UserID, t.Name, t.Subject, t.HTMLBody, nullStr(t.TextBody), fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt))
		if err != nil {
			return err
		}
		t.ID, err = res.LastInsertId()
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO email_templates(id, user_id, name, subject, html_body, text_body, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   user_id=excluded.user_id, name=excluded.name, subject=excluded.subject,
		   html_body=excluded.html_body, text_body=excluded.text_body, updated_at=excluded.updated_at`,
		t.ID, t.UserID, t.Name, t.Subject, t.HTMLBody, nullStr(t.TextBody), fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt))
	return err
}

// ---- API keys ----

func (s *sqliteStore) NextAPIKey(ctx context.Context, userID, preferredID int64) (*APIKey, error) {
	if preferredID != 0 {
		k, err := s.apiKeyWhere(ctx,
			`id = ? AND is_active = 1`+userScope(userID), preferredID)
		if err != nil {
			return nil, err
		}
		if k != nil {
			return k, nil
		}
	}
	// Rotation: least recently used active key, never-used keys first.
	return s.apiKeyWhere(ctx,
		`is_active = 1`+userScope(userID)+` ORDER BY last_used IS NOT NULL, last_used ASC LIMIT 1`)
}

func userScope(userID int64) string {
	if userID == 0 {
		return ""
	}
	return fmt.Sprintf(" AND user_id = %d", userID)
}

func (s *sqliteStore) apiKeyWhere(ctx context.Context, where string, args ...any) (*APIKey, error) {
	var (
		k        APIKey
		lastUsed sql.NullString
		created  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, key_value, is_active, usage_count, last_used, created_at
		 FROM api_keys WHERE `+where, args...).
		Scan(&k.ID, &k.UserID, &k.Name, &k.Value, &k.IsActive, &k.UsageCount, &lastUsed, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if k.LastUsed, err = parseNullTime(lastUsed); err != nil {
		return nil, err
	}
	if k.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *sqliteStore) SaveAPIKey(ctx context.Context, k *APIKey) error {
	if k == nil {
		return errors.New("nil api key")
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now()
	}
	if k.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO api_keys(user_id, name, key_value, is_active, usage_count, last_used, created_at)
			 VALUES(?,?,?,?,?,?,?)`,
			k.UserID, k.Name, k.Value, k.IsActive, k.UsageCount, nullTime(k.LastUsed), fmtTime(k.CreatedAt))
		if err != nil {
			return err
		}
		k.ID, err = res.LastInsertId()
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys(id, user_id, name, key_value, is_active, usage_count, last_used, created_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   user_id=excluded.user_id, name=excluded.name, key_value=excluded.key_value,
		   is_active=excluded.is_active, usage_count=excluded.usage_count, last_used=excluded.last_used`,
		k.ID, k.UserID, k.Name, k.Value, k.IsActive, k.UsageCount, nullTime(k.LastUsed), fmtTime(k.CreatedAt))
	return err
}

func (s *sqliteStore) TouchAPIKey(ctx context.Context, id int64, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET usage_count = usage_count + 1, last_used = ? WHERE id = ?`,
		fmtTime(usedAt), id)
	return err
}

// ---- Email log ----

func (s *sqliteStore) AppendEmailLog(ctx context.Context, e EmailLog) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO email_logs(user_id, recipient_email, subject, status, error_message,
		   api_key_id, template_id, scheduled_job_id, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.UserID, e.RecipientEmail, nullStr(e.Subject), e.Status, nullStr(e.Error),
		nullInt(e.APIKeyID), nullInt(e.TemplateID), nullInt(e.JobID), fmtTime(e.CreatedAt))
	return err
}

// ---- Recipients ----

func (s *sqliteStore) GetRecipient(ctx context.Context, userID int64, email string) (*Recipient, error) {
	var (
		r       Recipient
		name    sql.NullString
		fields  sql.NullString
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, email, name, custom_fields, is_active, created_at
		 FROM recipients WHERE email = ?`+userScope(userID)+` LIMIT 1`, email).
		Scan(&r.ID, &r.UserID, &r.Email, &name, &fields, &r.IsActive, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Name = name.String
	if r.CustomFields, err = decodeMap(fields); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *sqliteStore) SaveRecipient(ctx context.Context, r *Recipient) error {
	if r == nil {
		return errors.New("nil recipient")
	}
	fields, err := encodeMap(r.CustomFields)
	if err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO recipients(user_id, email, name, custom_fields, is_active, created_at)
			 VALUES(?,?,?,?,?,?)`,
			r.UserID, r.Email, nullStr(r.Name), fields, r.IsActive, fmtTime(r.CreatedAt))
		if err != nil {
			return err
		}
		r.ID, err = res.LastInsertId()
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO recipients(id, user_id, email, name, custom_fields, is_active, created_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   user_id=excluded.user_id, email=excluded.email, name=excluded.name,
		   custom_fields=excluded.custom_fields, is_active=excluded.is_active`,
		r.ID, r.UserID, r.Email, nullStr(r.Name), fields, r.IsActive, fmtTime(r.CreatedAt))
	return err
}

// ---- scan/format helpers ----

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	return parseTime(ns.String)
}

func encodeMap(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeMap(ns sql.NullString) (map[string]string, error) {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
