package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"WARN":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"bogus": zapcore.InfoLevel,
		"":      zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	if err := InitLogger(Config{Level: "info", OutputPath: path, MaxSize: 1}); err != nil {
		t.Fatal(err)
	}
	Debug("hidden")
	Warn("node lost", String("node", "n1"), ErrorField(errors.New("boom")))
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Fatal("debug line should be filtered at info level")
	}
	if !strings.Contains(out, `"node":"n1"`) || !strings.Contains(out, `"error":"boom"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}
