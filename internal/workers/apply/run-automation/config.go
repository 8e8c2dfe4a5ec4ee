// internal/workers/apply/run-automation/config.go
package runautomation

import (
	"time"

	"apply-workers/internal/common/config"
)

type Config struct {
	Command        string
	Args           []string
	WorkDir        string
	Timeout        time.Duration
	MaxOutputBytes int
	PassEnv        []string
	// KillDelay bounds how long Wait lingers on inherited pipes after a kill.
	KillDelay time.Duration
}

func LoadConfig(cfg config.AutomationConfig) *Config {
	c := &Config{
		Command:        cfg.Command,
		Args:           cfg.Args,
		WorkDir:        cfg.WorkDir,
		Timeout:        config.GetDuration(cfg.Timeout),
		MaxOutputBytes: cfg.MaxOutputBytes,
		PassEnv:        cfg.PassEnv,
		KillDelay:      2 * time.Second,
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = 1 << 20
	}
	return c
}
