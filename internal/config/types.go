package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	SMTP      SMTPConfig      `json:"smtp"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer. Nil means disabled,
// which leaves the daemon without jobs to run but is still a valid
// configuration for smoke-testing the mail path.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the trigger dispatcher and its worker pool.
//
// Durations are Go duration strings (e.g. "30s", "5m"). Use "0s" for
// DefaultTimeout to disable the global per-job timeout.
type SchedulerConfig struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`

	DefaultTimeout string `json:"default_timeout"`

	// Timezone for trigger evaluation, e.g. "Asia/Jakarta". Empty
	// means the host's local zone.
	Timezone string `json:"timezone,omitempty"`
}

// SMTPConfig holds the relay connection settings. The per-send
// credential is the tenant's rotated API key, not part of the file.
type SMTPConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username,omitempty"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name,omitempty"`

	MaxRetries int `json:"max_retries,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
}
