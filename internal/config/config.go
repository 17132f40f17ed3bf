package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/start-point/phone-sentry/internal/models"
)

// Retention is the log retention window.
type Retention string

const (
	RetentionDay   Retention = "1d"
	RetentionWeek  Retention = "1w"
	RetentionMonth Retention = "1m"
	RetentionYear  Retention = "1y"
	RetentionNever Retention = "never"
)

// Window returns the retention duration and false for RetentionNever.
func (r Retention) Window() (time.Duration, bool) {
	switch r {
	case RetentionDay:
		return 24 * time.Hour, true
	case RetentionWeek:
		return 7 * 24 * time.Hour, true
	case RetentionMonth:
		return 30 * 24 * time.Hour, true
	case RetentionYear:
		return 365 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// ReactionPolicy gates the three reactions to one condition.
type ReactionPolicy struct {
	Log    bool `yaml:"log"`
	Lock   bool `yaml:"lock"`
	Notify bool `yaml:"notify"`
}

// Reactions holds one policy per monitored condition. A fixed struct
// instead of string-keyed maps: a missing key cannot silently disable
// a reaction.
type Reactions struct {
	PhoneDetected  ReactionPolicy `yaml:"phone_detected"`
	CameraLost     ReactionPolicy `yaml:"camera_lost"`
	UniformImage   ReactionPolicy `yaml:"uniform_image"`
	StaticImage    ReactionPolicy `yaml:"static_img"`
	AttemptToClose ReactionPolicy `yaml:"attempt_to_close"`
}

// For returns the policy for a condition. Recovery kinds share the
// log and notify flags of their triggering condition but never lock:
// the session was just handed back to the operator.
func (r Reactions) For(kind models.EventKind) ReactionPolicy {
	var p ReactionPolicy
	switch kind.Condition() {
	case models.KindPhoneDetected:
		p = r.PhoneDetected
	case models.KindCameraLost:
		p = r.CameraLost
	case models.KindUniformImage:
		p = r.UniformImage
	case models.KindStaticImage:
		p = r.StaticImage
	case models.KindAttemptToClose:
		p = r.AttemptToClose
	}
	if kind != kind.Condition() {
		p.Lock = false
	}
	return p
}

// Config структура конфига агента.
type Config struct {
	CameraID            int     `yaml:"camera_id" env:"SENTRY_CAMERA_ID"`
	FPS                 int     `yaml:"fps" env:"SENTRY_FPS"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" env:"SENTRY_CONFIDENCE"`
	PhoneLimit          int     `yaml:"phone_limit" env:"SENTRY_PHONE_LIMIT"`
	ModelPath           string  `yaml:"model_path" env:"SENTRY_MODEL_PATH"`

	// LogDir is the directory under which the logs/ evidence folder
	// and the event database are created.
	LogDir string `yaml:"log_dir" env:"SENTRY_LOG_DIR"`

	LogRetention Retention `yaml:"log_retention" env:"SENTRY_LOG_RETENTION"`

	Reactions Reactions `yaml:"reactions"`

	NotificationsEnabled bool `yaml:"notifications_enabled" env:"SENTRY_NOTIFICATIONS"`

	Telegram struct {
		BotToken string  `yaml:"bot_token" env:"SENTRY_TG_TOKEN"`
		ChatIDs  []int64 `yaml:"chat_ids" env:"SENTRY_TG_CHAT_IDS" envSeparator:","`
	} `yaml:"telegram"`

	Export struct {
		Kafka struct {
			Brokers        []string `yaml:"brokers" env:"SENTRY_KAFKA_BROKERS" envSeparator:","`
			EventTopic     string   `yaml:"event_topic" env:"SENTRY_KAFKA_EVENT_TOPIC"`
			HeartbeatTopic string   `yaml:"heartbeat_topic" env:"SENTRY_KAFKA_HEARTBEAT_TOPIC"`
		} `yaml:"kafka"`

		S3 struct {
			Endpoint  string `yaml:"endpoint" env:"SENTRY_S3_ENDPOINT"`
			AccessKey string `yaml:"access_key" env:"SENTRY_S3_ACCESS_KEY"`
			SecretKey string `yaml:"secret_key" env:"SENTRY_S3_SECRET_KEY"`
			Bucket    string `yaml:"bucket" env:"SENTRY_S3_BUCKET"`
		} `yaml:"s3"`
	} `yaml:"export"`
}

// Default returns the configuration used when the file is absent,
// matching the shipped defaults of the settings editor.
func Default() *Config {
	cfg := &Config{
		CameraID:            0,
		FPS:                 10,
		ConfidenceThreshold: 0.8,
		PhoneLimit:          1,
		ModelPath:           "models/model.onnx",
		LogDir:              ".",
		LogRetention:        RetentionMonth,
		Reactions: Reactions{
			PhoneDetected:  ReactionPolicy{Log: true, Lock: true, Notify: true},
			CameraLost:     ReactionPolicy{Log: true, Lock: true, Notify: true},
			UniformImage:   ReactionPolicy{Log: true, Lock: true, Notify: true},
			StaticImage:    ReactionPolicy{Log: true, Lock: true, Notify: true},
			AttemptToClose: ReactionPolicy{Log: true, Lock: false, Notify: true},
		},
		NotificationsEnabled: false,
	}
	cfg.Export.S3.Bucket = "evidence"
	return cfg
}

// Load читает YAML-файл и применяет переменные окружения поверх него.
// A missing file is not an error: defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// keep defaults
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate clamps nothing and reports the first out-of-range setting.
func (c *Config) Validate() error {
	if c.FPS < 1 {
		return fmt.Errorf("fps must be >= 1, got %d", c.FPS)
	}
	if c.ConfidenceThreshold < 0.1 || c.ConfidenceThreshold > 0.9 {
		return fmt.Errorf("confidence_threshold must be in [0.1, 0.9], got %g", c.ConfidenceThreshold)
	}
	if c.PhoneLimit < 1 {
		return fmt.Errorf("phone_limit must be >= 1, got %d", c.PhoneLimit)
	}
	switch c.LogRetention {
	case RetentionDay, RetentionWeek, RetentionMonth, RetentionYear, RetentionNever:
	default:
		return fmt.Errorf("log_retention must be one of 1d/1w/1m/1y/never, got %q", c.LogRetention)
	}
	return nil
}

// FramePeriod is the duration of one supervisor cycle.
func (c *Config) FramePeriod() time.Duration {
	return time.Second / time.Duration(c.FPS)
}

// KafkaEnabled reports whether telemetry export is configured.
func (c *Config) KafkaEnabled() bool { return len(c.Export.Kafka.Brokers) > 0 }

// S3Enabled reports whether the evidence mirror is configured.
func (c *Config) S3Enabled() bool { return c.Export.S3.Endpoint != "" }
