package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Admins    []int64         `json:"admins"`
	Timezone  string          `json:"timezone,omitempty"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// BroadcastConfig controls the monthly fan-out.
//
// All durations are Go duration strings (e.g. "500ms", "5s").
//
// Defaults (when fields are omitted/zero):
//   - batch_size: 25
//   - batch_delay: "1s"
//   - rate_per_sec: 25
//   - retry_limit: 3
//   - retry_backoff: "5s"
type BroadcastConfig struct {
	BatchSize    int    `json:"batch_size,omitempty"`
	BatchDelay   string `json:"batch_delay,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
	RetryLimit   int    `json:"retry_limit,omitempty"`
	RetryBackoff string `json:"retry_backoff,omitempty"`
}

type SchedulerConfig struct {
	// PollInterval is how often the activation loop checks for a due
	// prediction. Default "1m".
	PollInterval string `json:"poll_interval,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
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

// IsAdmin reports whether id is on the static allow-list.
func (c *Config) IsAdmin(id int64) bool {
	for _, a := range c.Admins {
		if a == id {
			return true
		}
	}
	return false
}
