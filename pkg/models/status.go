package models

import "time"

// Status is a snapshot of the monitoring engine used for status reports
type Status struct {
	StartedAt time.Time
	Uptime    time.Duration
	Targets   int
	Enabled   int
	Failing   []FailingTarget
}

// FailingTarget describes a target currently in backoff
type FailingTarget struct {
	TargetID            int64
	ForumUsername       string
	ConsecutiveFailures int
	NextAttemptAt       time.Time
	LastError           string
}
