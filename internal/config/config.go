package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pawsture/wellmon/internal/logging"
)

// Thresholds holds the detection trigger counts. All counts are minimum
// numbers of rows inside the relevant window.
type Thresholds struct {
	PostureCritical int `yaml:"posture_critical"` // zone 4+ rows for CRITICAL
	PostureHigh     int `yaml:"posture_high"`     // zone 3+ rows for HIGH
	PostureMedium   int `yaml:"posture_medium"`   // zone 2+ rows for MEDIUM (info only)
	PostureRegion   int `yaml:"posture_region"`   // per-region rows at a given level

	EmotionNegative int `yaml:"emotion_negative"` // total negative-emotion rows
	EmotionSame     int `yaml:"emotion_same"`     // same-emotion rows for a persistent alert
	StressHigh      int `yaml:"stress_high"`      // stress_level=="alto" rows

	ChronicStressMean    float64 `yaml:"chronic_stress_mean"`    // 1-10 scale
	ChronicStressSamples int     `yaml:"chronic_stress_samples"` // minimum sample count
	ChronicPostureCount  int     `yaml:"chronic_posture_count"`  // neck_lateral_bend>=3 rows
}

// Windows holds the detection lookback windows.
type Windows struct {
	Posture       time.Duration `yaml:"posture"`
	PostureRegion time.Duration `yaml:"posture_region"`
	Emotion       time.Duration `yaml:"emotion"`

	ChronicStress  time.Duration `yaml:"chronic_stress"`
	ChronicPosture time.Duration `yaml:"chronic_posture"`
}

// Cooldowns holds the per-channel alert cooldown durations.
type Cooldowns struct {
	PostureL3 time.Duration `yaml:"posture_l3"`
	PostureL2 time.Duration `yaml:"posture_l2"`
	Emotion   time.Duration `yaml:"emotion"`
}

// Config is the full runtime configuration: credentials from the
// environment, tunables from defaults optionally overridden by a YAML file.
type Config struct {
	StoreURL       string `yaml:"-"`
	StoreKey       string `yaml:"-"`
	BotToken       string `yaml:"-"`
	BotChannel     string `yaml:"-"` // optional: restrict commands to one channel
	BotPort        string `yaml:"-"`
	SubscriberPath string `yaml:"-"`

	Thresholds Thresholds `yaml:"thresholds"`
	Windows    Windows    `yaml:"windows"`
	Cooldowns  Cooldowns  `yaml:"cooldowns"`

	TickInterval  time.Duration `yaml:"tick_interval"`
	TrainInterval time.Duration `yaml:"train_interval"` // 0 disables periodic refits
}

// Default returns the configuration with the stock thresholds and timings.
func Default() Config {
	return Config{
		Thresholds: Thresholds{
			PostureCritical:      4,
			PostureHigh:          5,
			PostureMedium:        6,
			PostureRegion:        4,
			EmotionNegative:      5,
			EmotionSame:          4,
			StressHigh:           4,
			ChronicStressMean:    7,
			ChronicStressSamples: 200,
			ChronicPostureCount:  800,
		},
		Windows: Windows{
			Posture:        10 * time.Second,
			PostureRegion:  20 * time.Second,
			Emotion:        50 * time.Second,
			ChronicStress:  7 * 24 * time.Hour,
			ChronicPosture: 14 * 24 * time.Hour,
		},
		Cooldowns: Cooldowns{
			PostureL3: 30 * time.Second,
			PostureL2: 30 * time.Second,
			Emotion:   30 * time.Second,
		},
		TickInterval:  10 * time.Second,
		TrainInterval: 6 * time.Hour,
	}
}

// FromEnv builds the configuration from the environment. Credentials are
// required; detection tunables come from Default plus an optional YAML
// override file named by WELLMON_CONFIG.
func FromEnv() (Config, error) {
	cfg := Default()

	cfg.StoreURL = os.Getenv("STORE_URL")
	cfg.StoreKey = os.Getenv("STORE_KEY")
	cfg.BotToken = os.Getenv("BOT_TOKEN")
	cfg.BotChannel = os.Getenv("BOT_CHANNEL_ID")
	cfg.BotPort = os.Getenv("BOT_PORT")
	cfg.SubscriberPath = os.Getenv("SUBSCRIBER_PATH")

	missing := []string{}
	if cfg.StoreURL == "" {
		missing = append(missing, "STORE_URL")
	}
	if cfg.StoreKey == "" {
		missing = append(missing, "STORE_KEY")
	}
	if cfg.BotToken == "" {
		missing = append(missing, "BOT_TOKEN")
	}
	if cfg.BotPort == "" {
		missing = append(missing, "BOT_PORT")
	}
	if cfg.SubscriberPath == "" {
		missing = append(missing, "SUBSCRIBER_PATH")
	}
	if len(missing) > 0 {
		return cfg, fmt.Errorf("missing required environment variables: %v", missing)
	}

	if path := os.Getenv("WELLMON_CONFIG"); path != "" {
		if err := cfg.loadOverrides(path); err != nil {
			return cfg, fmt.Errorf("load config overrides: %w", err)
		}
		logging.Info("config", "Loaded overrides from %s", path)
	}

	return cfg, cfg.validate()
}

// loadOverrides applies a YAML override file on top of the current values.
// Zero values in the file leave the defaults untouched.
func (c *Config) loadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var o Config
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	mergeInt(&c.Thresholds.PostureCritical, o.Thresholds.PostureCritical)
	mergeInt(&c.Thresholds.PostureHigh, o.Thresholds.PostureHigh)
	mergeInt(&c.Thresholds.PostureMedium, o.Thresholds.PostureMedium)
	mergeInt(&c.Thresholds.PostureRegion, o.Thresholds.PostureRegion)
	mergeInt(&c.Thresholds.EmotionNegative, o.Thresholds.EmotionNegative)
	mergeInt(&c.Thresholds.EmotionSame, o.Thresholds.EmotionSame)
	mergeInt(&c.Thresholds.StressHigh, o.Thresholds.StressHigh)
	mergeFloat(&c.Thresholds.ChronicStressMean, o.Thresholds.ChronicStressMean)
	mergeInt(&c.Thresholds.ChronicStressSamples, o.Thresholds.ChronicStressSamples)
	mergeInt(&c.Thresholds.ChronicPostureCount, o.Thresholds.ChronicPostureCount)

	mergeDur(&c.Windows.Posture, o.Windows.Posture)
	mergeDur(&c.Windows.PostureRegion, o.Windows.PostureRegion)
	mergeDur(&c.Windows.Emotion, o.Windows.Emotion)
	mergeDur(&c.Windows.ChronicStress, o.Windows.ChronicStress)
	mergeDur(&c.Windows.ChronicPosture, o.Windows.ChronicPosture)

	mergeDur(&c.Cooldowns.PostureL3, o.Cooldowns.PostureL3)
	mergeDur(&c.Cooldowns.PostureL2, o.Cooldowns.PostureL2)
	mergeDur(&c.Cooldowns.Emotion, o.Cooldowns.Emotion)

	mergeDur(&c.TickInterval, o.TickInterval)
	mergeDur(&c.TrainInterval, o.TrainInterval)

	return nil
}

func (c *Config) validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %v", c.TickInterval)
	}
	if c.Windows.Posture <= 0 || c.Windows.Emotion <= 0 {
		return fmt.Errorf("detection windows must be positive")
	}
	return nil
}

// DetectionDeadline is the per-tick budget for store queries: a slow store
// must never stall the next tick.
func (c *Config) DetectionDeadline() time.Duration {
	return c.TickInterval * 8 / 10
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func mergeFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func mergeDur(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
