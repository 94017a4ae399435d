package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadYAMLMatchesJSON(t *testing.T) {
	dir := t.TempDir()
	y := writeFile(t, dir, "c.yaml", `
logging:
  level: debug
  console: true
scheduler:
  timezone: UTC
  overlap: allow
storage:
  driver: sqlite
  path: ./data/x.db
task_engine:
  default_timeout: 90s
`)
	j := writeFile(t, dir, "c.json", `{"logging":{"level":"debug","console":true},"scheduler":{"timezone":"UTC","overlap":"allow"},"storage":{"driver":"sqlite","path":"./data/x.db"},"task_engine":{"default_timeout":"90s"}}`)

	cy, err := NewManager(y).Load()
	require.NoError(t, err)
	cj, err := NewManager(j).Load()
	require.NoError(t, err)
	assert.Equal(t, cj, cy)
	assert.Equal(t, 90*time.Second, MustDuration(cy.TaskEngine.DefaultTimeout, 2*time.Minute))
}

func TestDecodeRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"logging":{"lvl":"x"}}`))
	assert.Error(t, err)
	_, err = Decode("c.json", []byte(`{} {}`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"empty", Config{}, true},
		{"bad duration", Config{TaskEngine: TaskEngineConfig{DefaultTimeout: "soon"}}, false},
		{"bad tz", Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}, false},
		{"bad overlap", Config{Scheduler: SchedulerConfig{Overlap: "queue"}}, false},
		{"bad firing timeout", Config{Scheduler: SchedulerConfig{FiringTimeout: "1 minute"}}, false},
		{"firing timeout", Config{Scheduler: SchedulerConfig{FiringTimeout: "90s"}}, true},
		{"postgres without dsn", Config{Storage: StorageConfig{Driver: "postgres"}}, false},
		{"bad prune cron", Config{Housekeeping: HousekeepingConfig{PruneSchedule: "daily-ish"}}, false},
		{"email without from", Config{Notifier: NotifierConfig{Email: &EmailSinkConfig{Region: "eu-west-1"}}}, false},
	}
	for _, tc := range cases {
		err := Validate(&tc.cfg)
		if tc.ok {
			assert.NoError(t, err, tc.name)
		} else {
			assert.Error(t, err, tc.name)
		}
	}
}

func TestApplyEnvOverridesSecrets(t *testing.T) {
	t.Setenv("CHRONOSEND_TRANSPORT_TOKEN", "s3cret")
	t.Setenv("CHRONOSEND_REDIS_DB", "3")
	t.Setenv("CHRONOSEND_TELEGRAM_TOKEN", "tg")

	cfg := &Config{Transport: TransportConfig{Token: "file"}}
	ApplyEnv(cfg)
	assert.Equal(t, "s3cret", cfg.Transport.Token)
	assert.Equal(t, 3, cfg.Cache.DB)
	require.NotNil(t, cfg.Notifier.Telegram)
	assert.Equal(t, "tg", cfg.Notifier.Telegram.Token)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, ".env", "CHRONOSEND_TEST_DOTENV=loaded\n")
	t.Setenv("CHRONOSEND_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("CHRONOSEND_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(p, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "loaded", os.Getenv("CHRONOSEND_TEST_DOTENV"))
}

func TestWatchPublishesChangedConfig(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "c.json", `{"logging":{"level":"info"}}`)
	m := NewManager(p)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte(`{"logging":{"level":"debug"}}`), 0o644))

	select {
	case cfg := <-ch:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "debug", m.Get().Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("no config published")
	}
}

func TestSummarizeChange(t *testing.T) {
	a := &Config{Logging: LoggingConfig{Level: "info"}, Storage: StorageConfig{Driver: "sqlite"}}
	b := &Config{Logging: LoggingConfig{Level: "debug"}, Storage: StorageConfig{Driver: "postgres", DSN: "secret"}}
	changed, _ := SummarizeChange(a, b)
	assert.Equal(t, []string{"logging", "storage"}, changed)
	assert.Equal(t, []string{"storage"}, RestartRequired(changed))
}
