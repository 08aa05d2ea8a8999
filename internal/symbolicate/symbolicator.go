package symbolicate

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-sourcemap/sourcemap"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vango-dev/devpack/internal/errors"
	"github.com/vango-dev/devpack/internal/telemetry"
)

// SourceProvider loads the inputs of a symbolication.
type SourceProvider interface {
	// FetchSourceMap returns the source map of the bundle served at url.
	FetchSourceMap(ctx context.Context, url string) ([]byte, error)

	// FetchSourceFile returns the contents of an original source file as
	// named by a source map.
	FetchSourceFile(ctx context.Context, file string) ([]byte, error)
}

// Options configures a Symbolicator.
type Options struct {
	// Collapse marks resolved frames to be collapsed in the UI. Defaults to
	// DefaultCollapse.
	Collapse func(StackFrame) bool

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Symbolicator resolves stack frames through cached source maps.
type Symbolicator struct {
	provider SourceProvider
	collapse func(StackFrame) bool
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	mu   sync.Mutex
	maps map[string]*loadedMap
}

// loadedMap is a parsed source map. Lookups go through the per-line index
// when there is one; index maps made of sections use the consumer.
type loadedMap struct {
	consumer *sourcemap.Consumer
	index    *mappingIndex
}

func (m *loadedMap) source(line, column int) (source, name string, origLine, origColumn int, ok bool) {
	if m.index != nil {
		return m.index.lookup(line, column)
	}
	return m.consumer.Source(line, column)
}

// New creates a Symbolicator.
func New(provider SourceProvider, opts Options) *Symbolicator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collapse := opts.Collapse
	if collapse == nil {
		collapse = DefaultCollapse
	}
	return &Symbolicator{
		provider: provider,
		collapse: collapse,
		logger:   logger.With("component", "Symbolicator"),
		metrics:  opts.Metrics,
		maps:     make(map[string]*loadedMap),
	}
}

// Symbolicate translates stack. It fails only when ctx ends; every other
// problem leaves the affected frame unresolved.
func (s *Symbolicator) Symbolicate(ctx context.Context, stack []StackFrame) (result *Result, err error) {
	platform, _ := InferPlatform(stack)
	ctx, span := telemetry.StartSpan(ctx, "symbolicate", platform, attribute.Int("devpack.frames", len(stack)))
	defer func() {
		telemetry.EndSpan(span, err)
		s.metrics.Symbolicated(err)
	}()

	out := make([]StackFrame, len(stack))
	resolved := make([]bool, len(stack))
	for i, f := range stack {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i], resolved[i] = s.frame(ctx, f)
	}

	resolvedCount := 0
	for _, ok := range resolved {
		if ok {
			resolvedCount++
		}
	}
	s.logger.Debug("symbolicated stack", "platform", platform, "frames", len(stack), "resolved", resolvedCount)

	return &Result{Stack: out, CodeFrame: s.codeFrame(ctx, stack, out, resolved)}, nil
}

// frame translates one frame. The bool reports whether a source was found.
func (s *Symbolicator) frame(ctx context.Context, f StackFrame) (StackFrame, bool) {
	f.Collapse = false
	if f.LineNumber == nil || f.Column == nil || !shouldLookup(f) {
		return f, false
	}
	m := s.sourceMap(ctx, f.File)
	if m == nil {
		return f, false
	}

	source, name, line, column, ok := m.source(*f.LineNumber, *f.Column)
	if !ok || source == "" {
		return f, false
	}

	translated := StackFrame{
		File:       source,
		LineNumber: f.LineNumber,
		Column:     f.Column,
		MethodName: f.MethodName,
	}
	if line > 0 {
		translated.LineNumber = &line
	}
	if column >= 0 {
		translated.Column = &column
	}
	if name != "" {
		translated.MethodName = name
	}
	translated.Collapse = s.collapse(translated)
	return translated, true
}

// sourceMap returns the cached source map for a bundle URL, loading it on
// first use. A failed load is not cached so the next request retries.
func (s *Symbolicator) sourceMap(ctx context.Context, url string) *loadedMap {
	if m := s.cached(url); m != nil {
		return m
	}

	data, err := s.provider.FetchSourceMap(ctx, url)
	if err != nil {
		s.logger.Warn("source map unavailable", "url", url, "err", errors.New("E205").WithDetail(url).Wrap(err))
		return nil
	}
	c, err := sourcemap.Parse("", data)
	if err != nil {
		s.logger.Warn("invalid source map", "url", url, "err", errors.New("E205").WithDetail(url).Wrap(err))
		return nil
	}
	index, err := newMappingIndex(data)
	if err != nil {
		s.logger.Warn("invalid source map mappings", "url", url, "err", errors.New("E205").WithDetail(url).Wrap(err))
		return nil
	}

	m := &loadedMap{consumer: c, index: index}
	s.mu.Lock()
	s.maps[url] = m
	s.mu.Unlock()
	return m
}

func (s *Symbolicator) cached(url string) *loadedMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maps[url]
}

// codeFrame renders the first resolved, non-collapsed frame whose source can
// be read. Sources embedded in the map are preferred over the project files.
func (s *Symbolicator) codeFrame(ctx context.Context, stack, frames []StackFrame, resolved []bool) *CodeFrame {
	for i, f := range frames {
		if !resolved[i] || f.Collapse || f.LineNumber == nil || f.Column == nil {
			continue
		}
		var src string
		if m := s.cached(stack[i].File); m != nil {
			src = m.consumer.SourceContent(f.File)
		}
		if src == "" {
			data, err := s.provider.FetchSourceFile(ctx, f.File)
			if err != nil {
				s.logger.Debug("source file unavailable for code frame", "file", f.File, "err", err)
				continue
			}
			src = string(data)
		}
		content := errors.RenderCodeFrame(errors.SplitLines(src), *f.LineNumber, *f.Column+1)
		if content == "" {
			continue
		}
		return &CodeFrame{
			Content:  content,
			Location: Location{Row: *f.LineNumber, Column: *f.Column},
			FileName: f.File,
		}
	}
	return nil
}

// Evict drops cached source maps of bundles served for platform.
func (s *Symbolicator) Evict(platform string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for url := range s.maps {
		if p, ok := PlatformFromURL(url); ok && p == platform {
			delete(s.maps, url)
		}
	}
}

// Cached reports how many source maps are cached.
func (s *Symbolicator) Cached() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.maps)
}

// SourcePath strips the scheme prefixes bundlers put in front of source
// paths so the result can be resolved against the project root.
func SourcePath(file string) string {
	file = strings.TrimPrefix(file, "webpack://")
	file = strings.TrimPrefix(file, "[projectRoot]")
	if i := strings.Index(file, "/./"); i >= 0 && !strings.HasPrefix(file, "/") {
		file = file[i+1:]
	}
	return strings.TrimPrefix(strings.TrimPrefix(file, "/"), "./")
}
