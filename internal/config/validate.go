package config

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{Field: "DATABASE_URL", Message: "required"})
	}

	if cfg.DatabaseDriver != "" && cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "sqlite" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_DRIVER",
			Message: fmt.Sprintf("must be 'postgres' or 'sqlite', got %q", cfg.DatabaseDriver),
		})
	}

	if cfg.SchedulerSpec != "" {
		if _, err := cron.ParseStandard(cfg.SchedulerSpec); err != nil {
			errs = append(errs, ValidationError{
				Field:   "SCHEDULER_SPEC",
				Message: fmt.Sprintf("invalid schedule: %v", err),
			})
		}
	}

	switch cfg.DispatchMode {
	case "", "log":
	case "webhook":
		if cfg.DispatchWebhookURL == "" {
			errs = append(errs, ValidationError{Field: "DISPATCH_WEBHOOK_URL", Message: "required when DISPATCH_MODE=webhook"})
		} else if err := validateWebhookURL(cfg.DispatchWebhookURL); err != nil {
			errs = append(errs, ValidationError{Field: "DISPATCH_WEBHOOK_URL", Message: err.Error()})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "DISPATCH_MODE",
			Message: fmt.Sprintf("must be 'log' or 'webhook', got %q", cfg.DispatchMode),
		})
	}

	if cfg.DispatchRateStr != "" {
		if r, err := strconv.ParseFloat(cfg.DispatchRateStr, 64); err != nil || r < 0 || math.IsNaN(r) || math.IsInf(r, 0) {
			errs = append(errs, ValidationError{Field: "DISPATCH_RATE", Message: "must be a non-negative number"})
		}
	}

	for _, d := range []struct {
		field string
		value string
	}{
		{"DISPATCH_TIMEOUT", cfg.DispatchTimeoutStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"ANALYTICS_RETENTION", cfg.AnalyticsRetentionStr},
	} {
		if err := validatePositiveDuration(d.value); err != nil {
			errs = append(errs, ValidationError{Field: d.field, Message: err.Error()})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validatePositiveDuration(s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %v", err)
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
