package ws

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/devpack/internal/reporter"
)

func TestDevClientLogsConsoleOutput(t *testing.T) {
	rep := reporter.New(reporter.Options{Output: io.Discard, BufferSize: 10, Verbose: true})
	devClient := NewDevClientServer(rep.Logger(), nil)
	srv := newTestServer(t, devClient)

	conn := dial(t, srv, "/__client")
	writeJSON(t, conn, map[string]any{"type": "client-log", "level": "warn", "data": []any{"low memory", map[string]any{"free": 12}}})
	writeJSON(t, conn, map[string]any{"type": "client-log", "level": "trace", "data": []any{"tick"}})
	writeJSON(t, conn, map[string]any{"type": "client-log", "level": "log", "data": []any{"hello"}})

	var console []reporter.Entry
	require.Eventually(t, func() bool {
		console = console[:0]
		for _, e := range rep.Recent() {
			if e.Issuer == ConsoleIssuer {
				console = append(console, e)
			}
		}
		return len(console) == 3
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, reporter.LevelWarn, console[0].Type)
	assert.Equal(t, `low memory {"free":12}`, console[0].Text())
	assert.Equal(t, reporter.LevelDebug, console[1].Type)
	assert.Equal(t, reporter.LevelInfo, console[2].Type)
	assert.Equal(t, "hello", console[2].Text())
}
