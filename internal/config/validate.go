package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate rejects values that would only fail later at wiring time.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	dur("server.read_timeout", cfg.Server.ReadTimeout)
	dur("server.write_timeout", cfg.Server.WriteTimeout)
	dur("scheduler.firing_timeout", cfg.Scheduler.FiringTimeout)
	dur("task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout)
	dur("task_engine.max_queue_delay", cfg.TaskEngine.MaxQueueDelay)
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)
	dur("cache.ttl", cfg.Cache.TTL)
	dur("transport.request_timeout", cfg.Transport.RequestTimeout)
	dur("transport.retry_delay", cfg.Transport.RetryDelay)
	dur("transport.max_retry_delay", cfg.Transport.MaxRetryDelay)
	dur("transport.status_interval", cfg.Transport.StatusInterval)
	dur("notifier.retry_base", cfg.Notifier.RetryBase)
	dur("notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay)

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	switch cfg.Scheduler.Overlap {
	case "", "allow", "skip_if_running":
	default:
		errs = append(errs, fmt.Errorf("scheduler.overlap: unknown policy %q", cfg.Scheduler.Overlap))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn: required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	if spec := strings.TrimSpace(cfg.Housekeeping.PruneSchedule); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("housekeeping.prune_schedule: %w", err))
		}
	}
	if e := cfg.Notifier.Email; e != nil && (strings.TrimSpace(e.From) == "" || strings.TrimSpace(e.Region) == "") {
		errs = append(errs, errors.New("notifier.email: region and from are required"))
	}
	if cfg.Transport.MaxAttempts < 0 {
		errs = append(errs, errors.New("transport.max_attempts: must be >= 0"))
	}
	return errors.Join(errs...)
}
