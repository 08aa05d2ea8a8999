package reporter

import (
	"context"
	"log/slog"
	"slices"
)

// IssuerKey is the attribute used as an entry's issuer.
const IssuerKey = "component"

// Handler is an slog.Handler writing to a Reporter.
type Handler struct {
	reporter *Reporter
	issuer   string
	attrs    []groupedAttr
	groups   []string
}

type groupedAttr struct {
	groups []string
	attr   slog.Attr
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= slog.LevelInfo || h.reporter.verbose
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, rec slog.Record) error {
	issuer := h.issuer
	fields := make(map[string]any)
	for _, ga := range h.attrs {
		addAttr(fields, ga.groups, ga.attr)
	}
	rec.Attrs(func(a slog.Attr) bool {
		if a.Key == IssuerKey && len(h.groups) == 0 {
			issuer = a.Value.String()
			return true
		}
		addAttr(fields, h.groups, a)
		return true
	})
	if issuer == "" {
		issuer = "devpack"
	}

	msg := []any{rec.Message}
	if len(fields) > 0 {
		msg = append(msg, fields)
	}

	h.reporter.Process(Entry{
		Timestamp: rec.Time,
		Type:      LevelFromSlog(rec.Level),
		Issuer:    issuer,
		Message:   msg,
	})
	return nil
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		if a.Key == IssuerKey && len(h.groups) == 0 {
			nh.issuer = a.Value.String()
			continue
		}
		nh.attrs = append(nh.attrs, groupedAttr{groups: h.groups, attr: a})
	}
	return &nh
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.groups = append(slices.Clone(h.groups), name)
	return &nh
}

func addAttr(fields map[string]any, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	target := fields
	for _, g := range groups {
		sub, ok := target[g].(map[string]any)
		if !ok {
			sub = make(map[string]any)
			target[g] = sub
		}
		target = sub
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			addAttr(target, []string{a.Key}, ga)
		}
		return
	}
	switch v := a.Value.Any().(type) {
	case error:
		target[a.Key] = v.Error()
	default:
		target[a.Key] = v
	}
}
