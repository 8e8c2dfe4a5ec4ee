// internal/workers/apply/record-application/config.go
package recordapplication

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig(timeout time.Duration) *Config {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Config{Timeout: timeout}
}
