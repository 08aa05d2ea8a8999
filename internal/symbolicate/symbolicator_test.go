package symbolicate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Maps generated line 2, columns 0 and 4, to src/App.js lines 2 and 2:4
// (the latter named "render"). Line 3 maps back to src/App.js:3.
const testMap = `{
  "version": 3,
  "sources": ["webpack:///./src/App.js"],
  "names": ["render"],
  "mappings": "AAAA;AACA,IAAIA;AACJ"
}`

const appSource = "import React from 'react';\nexport function render() { throw new Error('x'); }\nexport default render;\n"

type fakeProvider struct {
	mu        sync.Mutex
	maps      map[string]string
	files     map[string]string
	mapFetch  map[string]int
	fileFetch []string
}

func newProvider() *fakeProvider {
	return &fakeProvider{
		maps:     map[string]string{},
		files:    map[string]string{},
		mapFetch: map[string]int{},
	}
}

func (p *fakeProvider) FetchSourceMap(_ context.Context, url string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mapFetch[url]++
	m, ok := p.maps[url]
	if !ok {
		return nil, fmt.Errorf("no map for %s", url)
	}
	return []byte(m), nil
}

func (p *fakeProvider) FetchSourceFile(_ context.Context, file string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fileFetch = append(p.fileFetch, file)
	src, ok := p.files[SourcePath(file)]
	if !ok {
		return nil, fmt.Errorf("no file %s", file)
	}
	return []byte(src), nil
}

func intp(n int) *int { return &n }

const bundleURL = "http://localhost:8081/index.bundle?platform=ios&dev=true"

func TestInferPlatform(t *testing.T) {
	tests := []struct {
		name  string
		stack []StackFrame
		want  string
		ok    bool
	}{
		{"query", []StackFrame{{File: bundleURL}}, "ios", true},
		{"filename", []StackFrame{{File: "http://localhost:8081/index.android.bundle"}}, "android", true},
		{"first match wins", []StackFrame{
			{File: "native"},
			{File: "http://localhost:8081/main.android.bundle"},
			{File: bundleURL},
		}, "android", true},
		{"plain bundle", []StackFrame{{File: "http://localhost:8081/index.bundle"}}, "", false},
		{"traversal query", []StackFrame{{File: "http://localhost:8081/index.bundle?platform=../../.."}}, "", false},
		{"slash in query", []StackFrame{{File: "http://localhost:8081/index.bundle?platform=ios/sim"}}, "", false},
		{"invalid names are skipped", []StackFrame{
			{File: "http://localhost:8081/index.bundle?platform=.."},
			{File: "http://localhost:8081/index.ios.bundle"},
		}, "ios", true},
		{"empty", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := InferPlatform(tt.stack)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSymbolicateResolvesFrames(t *testing.T) {
	p := newProvider()
	p.maps[bundleURL] = testMap
	p.files["src/App.js"] = appSource
	s := New(p, Options{})

	res, err := s.Symbolicate(context.Background(), []StackFrame{
		{File: bundleURL, LineNumber: intp(2), Column: intp(5), MethodName: "a"},
		{File: bundleURL, LineNumber: intp(3), Column: intp(0), MethodName: "b"},
	})
	require.NoError(t, err)
	require.Len(t, res.Stack, 2)

	first := res.Stack[0]
	assert.Equal(t, "webpack:///./src/App.js", first.File)
	assert.Equal(t, 2, *first.LineNumber)
	assert.Equal(t, 4, *first.Column)
	assert.Equal(t, "render", first.MethodName)
	assert.False(t, first.Collapse)

	assert.Equal(t, 3, *res.Stack[1].LineNumber)
	assert.Equal(t, "b", res.Stack[1].MethodName)

	require.NotNil(t, res.CodeFrame)
	assert.Equal(t, "webpack:///./src/App.js", res.CodeFrame.FileName)
	assert.Equal(t, Location{Row: 2, Column: 4}, res.CodeFrame.Location)
	assert.Contains(t, res.CodeFrame.Content, "> 2 | export function render()")
	assert.Equal(t, 1, p.mapFetch[bundleURL], "one fetch per bundle URL")
}

func TestSymbolicateIsIdempotent(t *testing.T) {
	p := newProvider()
	p.maps[bundleURL] = testMap
	p.files["src/App.js"] = appSource
	s := New(p, Options{})
	stack := []StackFrame{{File: bundleURL, LineNumber: intp(2), Column: intp(5), MethodName: "a"}}

	first, err := s.Symbolicate(context.Background(), stack)
	require.NoError(t, err)
	second, err := s.Symbolicate(context.Background(), stack)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, p.mapFetch[bundleURL], "consumer is cached across requests")
	assert.Equal(t, 2, *stack[0].LineNumber, "input is not modified")
}

func TestSymbolicateUnresolvableFramesPassThrough(t *testing.T) {
	p := newProvider()
	p.maps[bundleURL] = testMap
	s := New(p, Options{})

	stack := []StackFrame{
		{File: bundleURL, LineNumber: nil, Column: intp(3), MethodName: "noLine", Collapse: true},
		{File: bundleURL, LineNumber: intp(9), Column: nil, MethodName: "noColumn"},
		{File: "http://localhost:8081/debuggerWorker.js", LineNumber: intp(2), Column: intp(5), MethodName: "dbg"},
		{File: "native code", LineNumber: intp(1), Column: intp(1), MethodName: "native"},
		{File: "http://localhost:8081/other.bundle?platform=ios", LineNumber: intp(2), Column: intp(5), MethodName: "nomap"},
	}
	res, err := s.Symbolicate(context.Background(), stack)
	require.NoError(t, err)
	require.Len(t, res.Stack, len(stack))

	for i, f := range res.Stack {
		want := stack[i]
		want.Collapse = false
		assert.Equal(t, want, f, "frame %d", i)
	}
	assert.Nil(t, res.CodeFrame)
	assert.Zero(t, p.mapFetch["http://localhost:8081/debuggerWorker.js"])
}

func TestCodeFrameSkipsCollapsedAndUnreadable(t *testing.T) {
	p := newProvider()
	p.maps[bundleURL] = testMap
	// Source file missing: no code frame, but frames still resolve.
	s := New(p, Options{Collapse: func(f StackFrame) bool { return *f.LineNumber == 3 }})

	res, err := s.Symbolicate(context.Background(), []StackFrame{
		{File: bundleURL, LineNumber: intp(3), Column: intp(0), MethodName: "collapsed"},
		{File: bundleURL, LineNumber: intp(2), Column: intp(5), MethodName: "unreadable"},
	})
	require.NoError(t, err)
	assert.True(t, res.Stack[0].Collapse)
	assert.False(t, res.Stack[1].Collapse)
	assert.Nil(t, res.CodeFrame)
	assert.Equal(t, []string{"webpack:///./src/App.js"}, p.fileFetch, "collapsed frame is not rendered")

	p.files["src/App.js"] = appSource
	res, err = s.Symbolicate(context.Background(), []StackFrame{
		{File: bundleURL, LineNumber: intp(3), Column: intp(0)},
		{File: bundleURL, LineNumber: intp(2), Column: intp(5)},
	})
	require.NoError(t, err)
	require.NotNil(t, res.CodeFrame)
	assert.Equal(t, 2, res.CodeFrame.Location.Row)
}

func TestSymbolicateInvalidMapIsNotCached(t *testing.T) {
	p := newProvider()
	p.maps[bundleURL] = "{not json"
	s := New(p, Options{})
	stack := []StackFrame{{File: bundleURL, LineNumber: intp(2), Column: intp(5)}}

	res, err := s.Symbolicate(context.Background(), stack)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8081/index.bundle?platform=ios&dev=true", res.Stack[0].File)
	assert.Zero(t, s.Cached())

	p.maps[bundleURL] = testMap
	res, err = s.Symbolicate(context.Background(), stack)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Stack[0].File, "src/App.js"))
	assert.Equal(t, 1, s.Cached())
}

func TestSymbolicateCanceled(t *testing.T) {
	s := New(newProvider(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Symbolicate(ctx, []StackFrame{{File: bundleURL, LineNumber: intp(1), Column: intp(0)}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvictByPlatform(t *testing.T) {
	p := newProvider()
	android := "http://localhost:8081/index.bundle?platform=android"
	p.maps[bundleURL] = testMap
	p.maps[android] = testMap
	s := New(p, Options{})

	_, err := s.Symbolicate(context.Background(), []StackFrame{
		{File: bundleURL, LineNumber: intp(2), Column: intp(5)},
		{File: android, LineNumber: intp(2), Column: intp(5)},
	})
	require.NoError(t, err)
	require.Equal(t, 2, s.Cached())

	s.Evict("ios")
	assert.Equal(t, 1, s.Cached())

	_, err = s.Symbolicate(context.Background(), []StackFrame{{File: bundleURL, LineNumber: intp(2), Column: intp(5)}})
	require.NoError(t, err)
	assert.Equal(t, 2, p.mapFetch[bundleURL])
	assert.Equal(t, 1, p.mapFetch[android])
}

func TestDefaultCollapse(t *testing.T) {
	assert.True(t, DefaultCollapse(StackFrame{File: "webpack://MyApp/webpack/runtime/jsonp chunk loading"}))
	assert.True(t, DefaultCollapse(StackFrame{File: `webpack\bootstrap\index.js`}))
	assert.False(t, DefaultCollapse(StackFrame{File: "webpack:///./src/App.js"}))
}

func TestSourcePath(t *testing.T) {
	tests := map[string]string{
		"webpack:///./src/App.js":      "src/App.js",
		"webpack://MyApp/./src/App.js": "src/App.js",
		"[projectRoot]/src/App.js":     "src/App.js",
		"src/App.js":                   "src/App.js",
	}
	for in, want := range tests {
		assert.Equal(t, want, SourcePath(in), in)
	}
}
