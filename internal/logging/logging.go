// Package logging builds the process logger.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// Journal modes.
const (
	JournalAuto = "auto" // journal only when running as a systemd service
	JournalOn   = "on"
	JournalOff  = "off"
)

// Config selects level, output format and journal use.
type Config struct {
	Level   string `toml:"level"`
	Format  string `toml:"format"` // text or json
	Journal string `toml:"journal"`
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text", Journal: JournalAuto}
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// New creates a logger writing to w and, depending on config.Journal, to
// the systemd journal. The returned LevelVar adjusts the level at runtime.
func New(config Config, w io.Writer) (*slog.Logger, *slog.LevelVar, error) {
	level := new(slog.LevelVar)
	if config.Level != "" {
		l, err := ParseLevel(config.Level)
		if err != nil {
			return nil, nil, err
		}
		level.Set(l)
	}

	useJournal := false
	isService := isSystemdService()
	switch config.Journal {
	case "", JournalAuto:
		useJournal = isService
	case JournalOn:
		useJournal = true
	case JournalOff:
	default:
		return nil, nil, fmt.Errorf("invalid journal mode %q", config.Journal)
	}

	var handlers []slog.Handler

	// local
	var terminalHandler slog.Handler
	if !(useJournal && isService) {
		opts := &slog.HandlerOptions{Level: level}
		switch config.Format {
		case "", "text":
			terminalHandler = slog.NewTextHandler(w, opts)
		case "json":
			terminalHandler = slog.NewJSONHandler(w, opts)
		default:
			return nil, nil, fmt.Errorf("invalid log format %q", config.Format)
		}
		handlers = append(handlers, terminalHandler)
	}

	// systemd journal
	if useJournal {
		journalHandler, err := slogjournal.NewHandler(&slogjournal.Options{
			Level: level,
			ReplaceGroup: func(key string) string {
				return toJournalKey(key)
			},
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err != nil {
			if terminalHandler == nil {
				return nil, nil, fmt.Errorf("systemd journal: %w", err)
			}
			record := slog.NewRecord(time.Now(), slog.LevelWarn, "new systemd journal handler", 0)
			record.Add("error", err)
			_ = terminalHandler.Handle(context.Background(), record)
		} else {
			handlers = append(handlers, journalHandler)
		}
	}

	return slog.New(slogmulti.Fanout(handlers...)), level, nil
}

func toJournalKey(str string) string {
	str = strings.ToUpper(str)
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' ||
			r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, str)
}

func isSystemdService() bool {
	content, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return false
	}
	parts := strings.Split(strings.TrimSpace(string(content)), ":")
	if len(parts) < 3 {
		return false
	}
	return strings.HasSuffix(path.Dir(parts[2]), ".service")
}
