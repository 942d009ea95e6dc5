package scheduler

import "time"

// Config tunes scheduling
type Config struct {
	MinInterval   time.Duration
	MaxInterval   time.Duration
	RetryInterval time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// RetryState tracks the failures of one target since its last success
type RetryState struct {
	ConsecutiveFailures int
	NextAttemptAt       time.Time
	Alerted             bool // threshold notification already sent for this outage
	LastError           error
}

// BackoffDelay returns the wait after the given number of consecutive
// failures: the retry interval times min(failures, maxRetries), capped at
// maxInterval.
func BackoffDelay(cfg Config, failures int) time.Duration {
	mult := failures
	if mult > cfg.MaxRetries {
		mult = cfg.MaxRetries
	}
	if mult < 1 {
		mult = 1
	}

	d := cfg.RetryInterval * time.Duration(mult)
	if cfg.MaxInterval > 0 && d > cfg.MaxInterval {
		d = cfg.MaxInterval
	}
	return d
}

// ClampInterval bounds a poll interval to [MinInterval, MaxInterval]
func ClampInterval(cfg Config, d time.Duration) time.Duration {
	if d < cfg.MinInterval {
		return cfg.MinInterval
	}
	if cfg.MaxInterval > 0 && d > cfg.MaxInterval {
		return cfg.MaxInterval
	}
	return d
}
