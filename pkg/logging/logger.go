package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"geofollow/pkg/config"
)

// RequestLogger receives one line per HTTP request. It discards everything
// until Init points it at the request log.
var RequestLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Init rotates the previous run's logs to .old and installs the server log
// as the slog default: the configured file at its level, the console and
// the /api/log capture at INFO and above. The returned func closes the files.
func Init(cfg *config.LogConfig) (func(), error) {
	rotatePaths(cfg.Server.Path, cfg.Requests.Path)

	serverFile, err := openLog(cfg.Server.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to setup server logger: %w", err)
	}
	requestFile, err := openLog(cfg.Requests.Path)
	if err != nil {
		serverFile.Close()
		return nil, fmt.Errorf("failed to setup requests logger: %w", err)
	}

	level := ParseLevel(cfg.Server.Level)
	fileOpts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}
	visible := &slog.HandlerOptions{Level: max(level, slog.LevelInfo)}

	slog.SetDefault(slog.New(fanout{
		slog.NewTextHandler(serverFile, fileOpts),
		slog.NewTextHandler(os.Stdout, visible),
		slog.NewTextHandler(GlobalLogCapture, visible),
	}))
	RequestLogger = slog.New(slog.NewTextHandler(requestFile, &slog.HandlerOptions{Level: ParseLevel(cfg.Requests.Level)}))

	return func() {
		_ = errors.Join(serverFile.Close(), requestFile.Close())
	}, nil
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// ParseLevel maps DEBUG/INFO/WARN/ERROR (any case) to a slog level.
// Unknown strings yield INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanout hands each record to every sink that wants its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// nolint:gocritic // slog.Handler takes the record by value
func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// rotatePaths keeps exactly one previous generation of each log as <path>.old.
func rotatePaths(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = os.Remove(p + ".old")
		_ = os.Rename(p, p+".old")
	}
}
