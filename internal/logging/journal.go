package logging

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

// SyslogIdentifier tags our journal entries, so `journalctl -t cadence-dimmer`
// shows every module. Filter one module with MODULE=pwm.
const SyslogIdentifier = "cadence-dimmer"

var (
	journalSend    = journal.Send
	journalErrOnce sync.Once
)

// journalHandler writes records to the systemd journal. Attributes become
// journal fields named by fieldName, with groups joined by underscores, and
// the calling source location is sent as CODE_FILE, CODE_LINE and CODE_FUNC.
type journalHandler struct {
	level  slog.Leveler
	prefix string            // open groups, already in field form
	fields map[string]string // never mutated once the handler is built
}

func newJournalHandler(level slog.Leveler) *journalHandler {
	return &journalHandler{
		level:  level,
		fields: map[string]string{"SYSLOG_IDENTIFIER": SyslogIdentifier},
	}
}

func (h *journalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *journalHandler) Handle(_ context.Context, r slog.Record) error {
	fields := maps.Clone(h.fields)
	if r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		fields["CODE_FILE"] = frame.File
		fields["CODE_LINE"] = strconv.Itoa(frame.Line)
		fields["CODE_FUNC"] = frame.Function
	}
	r.Attrs(func(a slog.Attr) bool {
		putField(fields, h.prefix, a)
		return true
	})

	if err := journalSend(r.Message, journalPriority(r.Level), fields); err != nil {
		journalErrOnce.Do(func() {
			fmt.Fprintf(os.Stderr, "journal send failed, further errors suppressed: %v\n", err)
		})
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

func (h *journalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	fields := maps.Clone(h.fields)
	for _, a := range attrs {
		putField(fields, h.prefix, a)
	}
	return &journalHandler{level: h.level, prefix: h.prefix, fields: fields}
}

func (h *journalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &journalHandler{level: h.level, prefix: h.prefix + fieldName(name) + "_", fields: h.fields}
}

func journalPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// putField stores a under prefix. Groups are flattened; an inline group
// (empty key) adds no prefix of its own.
func putField(fields map[string]string, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	switch a.Value.Kind() {
	case slog.KindGroup:
		p := prefix
		if a.Key != "" {
			p += fieldName(a.Key) + "_"
		}
		for _, ga := range a.Value.Group() {
			putField(fields, p, ga)
		}
	case slog.KindTime:
		fields[prefix+fieldName(a.Key)] = a.Value.Time().Format(time.RFC3339Nano)
	default:
		fields[prefix+fieldName(a.Key)] = a.Value.String()
	}
}

// fieldName turns an attribute key into a journal field name. journald only
// accepts upper case letters, digits and underscores, and the name must begin
// with a letter, so "high-ns" becomes HIGH_NS and "3v3" becomes ATTR_3V3.
func fieldName(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, c := range key {
		switch {
		case c >= 'a' && c <= 'z':
			b.WriteRune(c - 'a' + 'A')
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.TrimLeft(b.String(), "_")
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "ATTR_" + name
	}
	return name
}

// IsJournalAvailable checks if systemd journal is available.
func IsJournalAvailable() bool {
	return journal.Enabled()
}
