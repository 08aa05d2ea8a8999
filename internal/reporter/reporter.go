package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Sink receives every entry the Reporter accepts.
type Sink interface {
	Process(Entry)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Entry)

// Process calls f(e).
func (f SinkFunc) Process(e Entry) { f(e) }

// Options configures a Reporter.
type Options struct {
	// Output receives rendered entries. Defaults to os.Stderr.
	Output io.Writer

	// BufferSize is the number of recent entries kept. Zero keeps none.
	BufferSize int

	// Verbose lets debug entries through.
	Verbose bool

	// JSON writes entries as JSON lines instead of styled text.
	JSON bool
}

// Reporter buffers, renders and fans out log entries.
type Reporter struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	json    bool
	styles  styles

	ring  []Entry
	next  int
	full  bool
	sinks []Sink
}

type styles struct {
	debug  lipgloss.Style
	info   lipgloss.Style
	warn   lipgloss.Style
	err    lipgloss.Style
	issuer lipgloss.Style
	time   lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		debug:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		info:   lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		err:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		issuer: lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		time:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// New creates a Reporter.
func New(opts Options) *Reporter {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	r := &Reporter{
		out:     out,
		verbose: opts.Verbose,
		json:    opts.JSON,
		styles:  defaultStyles(),
	}
	if opts.BufferSize > 0 {
		r.ring = make([]Entry, opts.BufferSize)
	}
	return r
}

// AddSink registers s to receive entries accepted after this call.
func (r *Reporter) AddSink(s Sink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
}

// Verbose reports whether debug entries are accepted.
func (r *Reporter) Verbose() bool {
	return r.verbose
}

// Process accepts one entry.
func (r *Reporter) Process(e Entry) {
	if e.Type == LevelDebug && !r.verbose {
		return
	}

	r.mu.Lock()
	if len(r.ring) > 0 {
		r.ring[r.next] = e
		r.next = (r.next + 1) % len(r.ring)
		if r.next == 0 {
			r.full = true
		}
	}
	r.write(e)
	sinks := make([]Sink, len(r.sinks))
	copy(sinks, r.sinks)
	r.mu.Unlock()

	for _, s := range sinks {
		s.Process(e)
	}
}

// Recent returns the buffered entries, oldest first.
func (r *Reporter) Recent() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]Entry, r.next)
		copy(out, r.ring[:r.next])
		return out
	}
	out := make([]Entry, 0, len(r.ring))
	out = append(out, r.ring[r.next:]...)
	out = append(out, r.ring[:r.next]...)
	return out
}

// write renders e. Caller holds r.mu.
func (r *Reporter) write(e Entry) {
	if r.json {
		data, err := json.Marshal(e)
		if err != nil {
			return
		}
		r.out.Write(append(data, '\n'))
		return
	}

	var symbol string
	var style lipgloss.Style
	switch e.Type {
	case LevelDebug:
		symbol, style = "?", r.styles.debug
	case LevelWarn:
		symbol, style = "⚠", r.styles.warn
	case LevelError:
		symbol, style = "✖", r.styles.err
	default:
		symbol, style = "ℹ", r.styles.info
	}

	fmt.Fprintf(r.out, "%s %s %s %s\n",
		r.styles.time.Render(e.Timestamp.Format("15:04:05")),
		style.Render(symbol),
		r.styles.issuer.Render("["+e.Issuer+"]"),
		e.Text())
}

// Handler returns an slog.Handler that feeds this Reporter.
func (r *Reporter) Handler() slog.Handler {
	return &Handler{reporter: r}
}

// Logger returns a logger whose records feed this Reporter.
func (r *Reporter) Logger() *slog.Logger {
	return slog.New(r.Handler())
}
