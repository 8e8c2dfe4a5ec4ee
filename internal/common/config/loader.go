// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml and
// applies environment overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnvVars replaces ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills values the deployment historically passed as plain
// environment variables.
func overrideEmptyConfig(cfg *Config) {
	setIfEmpty(&cfg.Database.Postgres.URL, "DATABASE_URL")
	setIfEmpty(&cfg.Database.Postgres.User, "DB_USER")
	setIfEmpty(&cfg.Database.Postgres.Password, "DB_PASSWORD")
	setIfEmpty(&cfg.Database.Redis.URL, "REDIS_URL")

	setIfEmpty(&cfg.Applicant.TargetURL, "TARGET_URL")
	setIfEmpty(&cfg.Applicant.FirstName, "FIRST_NAME")
	setIfEmpty(&cfg.Applicant.LastName, "LAST_NAME")
	setIfEmpty(&cfg.Applicant.Email, "EMAIL")
	setIfEmpty(&cfg.Applicant.ResumePath, "RESUME_PATH")

	setIfEmpty(&cfg.Alerts.SNS.TopicARN, "ALERTS_SNS_TOPIC_ARN")
}

func setIfEmpty(dst *string, envKey string) {
	if *dst != "" {
		return
	}
	if val := os.Getenv(envKey); val != "" {
		*dst = val
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "apply-workers"
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Redis.PoolSize == 0 {
		cfg.Database.Redis.PoolSize = 10
	}

	if cfg.Queue.Name == "" {
		cfg.Queue.Name = "job_apply_queue"
	}
	if cfg.Queue.PollTimeout == 0 {
		cfg.Queue.PollTimeout = 5000
	}
	if cfg.Queue.MaxDeliveries == 0 {
		cfg.Queue.MaxDeliveries = 3
	}
	if cfg.Queue.ReaperInterval == 0 {
		cfg.Queue.ReaperInterval = 15000
	}
	if cfg.Queue.ReaperBatch == 0 {
		cfg.Queue.ReaperBatch = 100
	}

	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 1
	}
	if cfg.Worker.ShutdownGrace == 0 {
		cfg.Worker.ShutdownGrace = 30000
	}
	if cfg.Worker.BackoffInitial == 0 {
		cfg.Worker.BackoffInitial = 500
	}
	if cfg.Worker.BackoffMax == 0 {
		cfg.Worker.BackoffMax = 30000
	}
	if cfg.Worker.RecordTimeout == 0 {
		cfg.Worker.RecordTimeout = 10000
	}

	if cfg.Automation.Timeout == 0 {
		cfg.Automation.Timeout = 120000
	}
	if cfg.Automation.ResumeDir == "" {
		cfg.Automation.ResumeDir = "/tmp"
	}
	if cfg.Automation.MaxOutputBytes == 0 {
		cfg.Automation.MaxOutputBytes = 1 << 20
	}
	if cfg.Automation.PassEnv == nil {
		cfg.Automation.PassEnv = []string{"PATH", "HOME"}
	}

	// The in-flight deadline must outlive the automation timeout plus the
	// time needed to write the record.
	if cfg.Queue.VisibilityTimeout == 0 {
		cfg.Queue.VisibilityTimeout = cfg.Automation.Timeout + cfg.Worker.RecordTimeout + 30000
	}

	if cfg.Alerts.Channel == "" {
		cfg.Alerts.Channel = "none"
	}

	if cfg.Server.HealthAddr == "" {
		cfg.Server.HealthAddr = ":8080"
	}
	if cfg.Server.APIAddr == "" {
		cfg.Server.APIAddr = ":8081"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	pg := cfg.Database.Postgres
	if pg.URL == "" {
		if pg.Host == "" {
			return fmt.Errorf("database.postgres.host or url is required")
		}
		if pg.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
		if pg.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}
	}

	if cfg.Database.Redis.Address == "" && cfg.Database.Redis.URL == "" {
		return fmt.Errorf("database.redis.address or url is required")
	}

	if cfg.Automation.Command == "" {
		return fmt.Errorf("automation.command is required")
	}
	if cfg.Queue.VisibilityTimeout <= cfg.Automation.Timeout {
		return fmt.Errorf("queue.visibility_timeout (%dms) must exceed automation.timeout (%dms)",
			cfg.Queue.VisibilityTimeout, cfg.Automation.Timeout)
	}
	if cfg.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}

	switch cfg.Alerts.Channel {
	case "none":
	case "sns":
		if cfg.Alerts.SNS.TopicARN == "" {
			return fmt.Errorf("alerts.sns.topic_arn is required for the sns channel")
		}
	case "ses":
		if cfg.Alerts.SES.FromEmail == "" || len(cfg.Alerts.SES.ToEmails) == 0 {
			return fmt.Errorf("alerts.ses.from_email and alerts.ses.to_emails are required for the ses channel")
		}
	default:
		return fmt.Errorf("alerts.channel %q is not one of none, sns, ses", cfg.Alerts.Channel)
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
