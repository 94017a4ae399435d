package config

import (
	"reflect"
	"strings"

	logx "chronosend/pkg/logx"
)

// SummarizeChange lists the changed top-level sections plus safe log fields.
// Secrets (tokens, DSNs, passwords) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs, logx.String("logging.level", newCfg.Logging.Level), logx.Bool("logging.file", newCfg.Logging.File.Enabled))
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone), logx.String("scheduler.overlap", newCfg.Scheduler.Overlap))
	}
	if oldCfg.TaskEngine != newCfg.TaskEngine {
		changed = append(changed, "task_engine")
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Cache != newCfg.Cache {
		changed = append(changed, "cache")
		attrs = append(attrs, logx.Bool("cache.enabled", strings.TrimSpace(newCfg.Cache.Addr) != ""))
	}
	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
	}
	if !reflect.DeepEqual(oldCfg.Media, newCfg.Media) {
		changed = append(changed, "media")
	}
	if oldCfg.Transport != newCfg.Transport {
		changed = append(changed, "transport")
		attrs = append(attrs, logx.String("transport.base_url", newCfg.Transport.BaseURL))
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs, logx.Bool("notifier.enabled", newCfg.Notifier.Enabled))
	}
	if oldCfg.Housekeeping != newCfg.Housekeeping {
		changed = append(changed, "housekeeping")
	}
	return changed, attrs
}

// RestartRequired reports changed sections that are only read at startup.
func RestartRequired(changed []string) []string {
	var out []string
	for _, c := range changed {
		switch c {
		case "logging", "scheduler":
		default:
			out = append(out, c)
		}
	}
	return out
}
