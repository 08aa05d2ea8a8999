package reporter

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"
)

// Level is the severity of an entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// LevelFromSlog maps a slog level onto an entry level.
func LevelFromSlog(l slog.Level) Level {
	switch {
	case l >= slog.LevelError:
		return LevelError
	case l >= slog.LevelWarn:
		return LevelWarn
	case l >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// Slog maps the entry level back onto slog.
func (l Level) Slog() slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Entry is one log record as shown on the dashboard.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Type      Level     `json:"type"`
	Issuer    string    `json:"issuer"`
	Message   []any     `json:"message"`
}

// Text joins the message parts for terminal output.
func (e Entry) Text() string {
	parts := make([]string, 0, len(e.Message))
	for _, m := range e.Message {
		switch v := m.(type) {
		case string:
			parts = append(parts, v)
		case error:
			parts = append(parts, v.Error())
		default:
			data, err := json.Marshal(v)
			if err != nil {
				continue
			}
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, " ")
}

// ParseLine decodes one JSON line written by a worker. Lines that are not
// entries become info entries carrying the raw text.
func ParseLine(line []byte, issuer string) Entry {
	var e Entry
	if err := json.Unmarshal(line, &e); err != nil || e.Type == "" {
		return Entry{
			Timestamp: time.Now(),
			Type:      LevelInfo,
			Issuer:    issuer,
			Message:   []any{strings.TrimRight(string(line), "\r\n")},
		}
	}
	if e.Issuer == "" {
		e.Issuer = issuer
	} else {
		e.Issuer = issuer + ":" + e.Issuer
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return e
}
