package app

import (
	"strings"
	"time"

	"chronosend/internal/api"
	"chronosend/internal/config"
	"chronosend/internal/notifier"
	"chronosend/internal/storage"
	"chronosend/internal/task/engine"
	"chronosend/internal/task/scheduler"
	"chronosend/internal/transport"
	"chronosend/internal/transport/gateway"
	logx "chronosend/pkg/logx"
)

// Durations below were checked by config.Validate, so MustDuration only fills defaults.

func mapLogging(cfg *config.Config) logx.Config {
	f := cfg.Logging.File
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:    f.Enabled,
			Path:       f.Path,
			MaxSizeMB:  f.MaxSizeMB,
			MaxBackups: f.MaxBackups,
			MaxAgeDays: f.MaxAgeDays,
			Compress:   f.Compress,
		},
	}
}

func mapEngine(cfg *config.Config) engine.Config {
	te := cfg.TaskEngine
	return engine.Config{
		Enabled:        true,
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: config.MustDuration(te.DefaultTimeout, 2*time.Minute),
		MaxQueueDelay:  config.MustDuration(te.MaxQueueDelay, 0),
		HistorySize:    te.HistorySize,
	}
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	def := config.MustDuration(cfg.TaskEngine.DefaultTimeout, 2*time.Minute)
	return scheduler.Config{
		Timezone:      strings.TrimSpace(cfg.Scheduler.Timezone),
		Overlap:       engine.ParseOverlapPolicy(cfg.Scheduler.Overlap),
		FiringTimeout: config.MustDuration(cfg.Scheduler.FiringTimeout, def),
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = "./data/chronosend.db"
	}
	return storage.Config{
		Driver:      strings.TrimSpace(sc.Driver),
		Path:        path,
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: config.MustDuration(sc.BusyTimeout, 0),
		MaxOpenConn: sc.MaxOpenConn,
	}
}

func mapNotifier(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	return notifier.Config{
		Enabled:        n.Enabled,
		Workers:        n.Workers,
		QueueSize:      n.QueueSize,
		RatePerSec:     n.RatePerSec,
		RetryMax:       n.RetryMax,
		RetryBase:      config.MustDuration(n.RetryBase, 0),
		RetryMaxDelay:  config.MustDuration(n.RetryMaxDelay, 0),
		DefaultAddress: strings.TrimSpace(n.DefaultAddress),
	}
}

func mapGateway(cfg *config.Config) gateway.Config {
	t := cfg.Transport
	return gateway.Config{
		BaseURL: t.BaseURL,
		Token:   t.Token,
		Timeout: config.MustDuration(t.RequestTimeout, 30*time.Second),
		Session: transport.SessionConfig{
			MaxAttempts:  t.MaxAttempts,
			BaseDelay:    config.MustDuration(t.RetryDelay, 2*time.Second),
			MaxDelay:     config.MustDuration(t.MaxRetryDelay, time.Minute),
			PollInterval: config.MustDuration(t.StatusInterval, 15*time.Second),
		},
	}
}

func mapServer(cfg *config.Config) api.Config {
	s := cfg.Server
	return api.Config{
		Addr:         strings.TrimSpace(s.Addr),
		ReadTimeout:  config.MustDuration(s.ReadTimeout, 0),
		WriteTimeout: config.MustDuration(s.WriteTimeout, 0),
		BodyLimit:    s.BodyLimitMB << 20,
	}
}
