package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newJSON(w *bytes.Buffer, level string) Logger {
	zerolog.ErrorFieldName = "err"
	zl := zerolog.New(w).Level(parseLevel(level, zerolog.InfoLevel)).With().Timestamp().Logger()
	return Logger{base: zl, hasBase: true}
}

func TestJSONLoggerWritesFieldsAndRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newJSON(&buf, "info").With(String("comp", "test"))

	log.Debug("hidden")
	log.Info("hello", Int("n", 3), Duration("took", time.Second), Err(errors.New("boom")))

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("expected exactly one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["message"] != "hello" || rec["comp"] != "test" || rec["err"] != "boom" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if rec["n"].(float64) != 3 {
		t.Fatalf("n=%v", rec["n"])
	}
}

func TestNopIsSilentButNotZero(t *testing.T) {
	l := Nop()
	if l.IsZero() {
		t.Fatalf("Nop must not be the zero logger")
	}
	if l.Enabled(LevelError) {
		t.Fatalf("Nop must not enable any level")
	}
	if !(Logger{}).IsZero() {
		t.Fatalf("zero Logger must report IsZero")
	}
}

func TestServiceFileSinkAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log.Info("first")
	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	log.Info("dropped after level change")
	log.Error("second")
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := bytes.Split(bytes.TrimSpace(b), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), b)
	}
}
