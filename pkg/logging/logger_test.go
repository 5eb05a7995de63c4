package logging

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"geofollow/pkg/config"
)

func TestInit(t *testing.T) {
	tempDir := t.TempDir()
	serverLog := filepath.Join(tempDir, "server.log")
	requestLog := filepath.Join(tempDir, "requests.log")

	// A previous run's log is rotated to .old.
	if err := os.WriteFile(serverLog, []byte("previous run\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.LogConfig{
		Server: config.LogSettings{
			Path:  serverLog,
			Level: "DEBUG",
		},
		Requests: config.LogSettings{
			Path:  requestLog,
			Level: "INFO",
		},
	}

	prev := slog.Default()
	cleanup, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer func() {
		cleanup()
		slog.SetDefault(prev)
	}()

	if _, err := os.Stat(serverLog); os.IsNotExist(err) {
		t.Error("Server log file not created")
	}
	if _, err := os.Stat(requestLog); os.IsNotExist(err) {
		t.Error("Request log file not created")
	}
	old, err := os.ReadFile(serverLog + ".old")
	if err != nil || !strings.Contains(string(old), "previous run") {
		t.Errorf("previous log not rotated: %v", err)
	}

	RequestLogger.Info("Request Processed", "path", "/health")
	RequestLogger.Debug("below request level")
	reqs, err := os.ReadFile(requestLog)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(reqs), "path=/health") || strings.Contains(string(reqs), "below request level") {
		t.Errorf("request log = %q", reqs)
	}

	slog.Info("capture me", "component", "test")
	if got := GlobalLogCapture.GetLastLine(); !strings.Contains(got, "capture me") {
		t.Errorf("capture handler missed the line, got %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogCaptureWriter(t *testing.T) {
	w := &LogCaptureWriter{}
	if w.GetLastLine() != "" || len(w.Recent(5)) != 0 {
		t.Fatal("empty writer must return nothing")
	}

	for i := 0; i < recentLines+5; i++ {
		fmt.Fprintf(w, "line %d\n", i)
	}

	if got := w.GetLastLine(); got != fmt.Sprintf("line %d", recentLines+4) {
		t.Errorf("GetLastLine() = %q", got)
	}
	recent := w.Recent(3)
	want := []string{
		fmt.Sprintf("line %d", recentLines+2),
		fmt.Sprintf("line %d", recentLines+3),
		fmt.Sprintf("line %d", recentLines+4),
	}
	for i := range want {
		if recent[i] != want[i] {
			t.Errorf("Recent(3)[%d] = %q, want %q", i, recent[i], want[i])
		}
	}
	if len(w.Recent(0)) != recentLines {
		t.Errorf("Recent(0) must return the whole buffer")
	}
}

func TestFanout(t *testing.T) {
	var debug, info bytes.Buffer
	h := fanout{
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}
	logger := slog.New(h).With("component", "mapsync")

	logger.Debug("overlay diff")
	logger.Info("view created")

	if !strings.Contains(debug.String(), "overlay diff") || !strings.Contains(debug.String(), "view created") {
		t.Errorf("debug sink = %q", debug.String())
	}
	if strings.Contains(info.String(), "overlay diff") {
		t.Errorf("info sink got a debug line: %q", info.String())
	}
	if !strings.Contains(info.String(), "component=mapsync") {
		t.Errorf("attrs not propagated: %q", info.String())
	}
	if h.Enabled(context.Background(), slog.LevelDebug-1) {
		t.Error("no sink accepts levels below DEBUG")
	}
}
