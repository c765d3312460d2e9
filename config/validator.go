package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError is one rejected setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every rejected setting.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:", len(e))
	for _, err := range e {
		sb.WriteString("\n  ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

var (
	validModes      = []string{ModeProcess, ModeThread}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"json", "console"}
)

// Validate returns every invalid setting, or nil.
func (c Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if strings.TrimSpace(c.DataDir) == "" {
		add("data_dir", c.DataDir, "must not be empty")
	}
	if c.BaseURL == "" {
		add("base_url", c.BaseURL, "must not be empty")
	}

	if !slices.Contains(validModes, c.Isolation.Mode) {
		add("isolation.mode", c.Isolation.Mode, "must be one of "+strings.Join(validModes, ", "))
	}
	if c.Isolation.Workers < 0 {
		add("isolation.workers", c.Isolation.Workers, "must not be negative")
	}
	if c.Isolation.MemoryPerWorkerMB == 0 {
		add("isolation.memory_per_worker_mb", c.Isolation.MemoryPerWorkerMB, "must be positive")
	}

	if c.Browser.Timeout <= 0 {
		add("browser.timeout", c.Browser.Timeout, "must be positive")
	}
	if c.Pacing.MinDelay < 0 {
		add("pacing.min_delay", c.Pacing.MinDelay, "must not be negative")
	}
	if c.Pacing.MinDelay > c.Pacing.MaxDelay {
		add("pacing.max_delay", c.Pacing.MaxDelay, "must not be less than pacing.min_delay")
	}

	if c.Limits.DailyConnections <= 0 {
		add("limits.daily_connections", c.Limits.DailyConnections, "must be positive")
	}
	if c.Limits.DailyMessages <= 0 {
		add("limits.daily_messages", c.Limits.DailyMessages, "must be positive")
	}
	if c.Limits.MaxTargets <= 0 {
		add("limits.max_targets", c.Limits.MaxTargets, "must be positive")
	}
	if c.Limits.HonorLimitCooldown && c.Limits.LimitCooldown <= 0 {
		add("limits.limit_cooldown", c.Limits.LimitCooldown, "must be positive when honor_limit_cooldown is set")
	}

	if !slices.Contains(validLogLevels, c.Log.Level) {
		add("log.level", c.Log.Level, "must be one of "+strings.Join(validLogLevels, ", "))
	}
	if !slices.Contains(validLogFormats, c.Log.Format) {
		add("log.format", c.Log.Format, "must be one of "+strings.Join(validLogFormats, ", "))
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
