package reporter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecentKeepsLastN(t *testing.T) {
	r := New(Options{Output: &bytes.Buffer{}, BufferSize: 3})
	for i := 0; i < 5; i++ {
		r.Process(Entry{Type: LevelInfo, Issuer: "test", Message: []any{fmt.Sprint(i)}})
	}

	recent := r.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, "2", recent[0].Text())
	assert.Equal(t, "4", recent[2].Text())
}

func TestRecentBeforeWrap(t *testing.T) {
	r := New(Options{Output: &bytes.Buffer{}, BufferSize: 10})
	r.Process(Entry{Type: LevelWarn, Issuer: "a", Message: []any{"first"}})

	recent := r.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, LevelWarn, recent[0].Type)
}

func TestDebugDroppedUnlessVerbose(t *testing.T) {
	var out bytes.Buffer
	quiet := New(Options{Output: &out, BufferSize: 10})
	quiet.Process(Entry{Type: LevelDebug, Message: []any{"hidden"}})
	assert.Empty(t, quiet.Recent())
	assert.Empty(t, out.String())

	loud := New(Options{Output: &out, BufferSize: 10, Verbose: true})
	loud.Process(Entry{Type: LevelDebug, Message: []any{"shown"}})
	assert.Len(t, loud.Recent(), 1)
}

func TestSinksReceiveEntries(t *testing.T) {
	r := New(Options{Output: &bytes.Buffer{}})
	var got []Entry
	r.AddSink(SinkFunc(func(e Entry) { got = append(got, e) }))

	r.Process(Entry{Type: LevelError, Issuer: "x", Message: []any{"boom"}})
	require.Len(t, got, 1)
	assert.Equal(t, "boom", got[0].Text())
}

func TestTerminalOutput(t *testing.T) {
	var out bytes.Buffer
	r := New(Options{Output: &out})
	r.Process(Entry{Timestamp: time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC), Type: LevelError, Issuer: "Compiler", Message: []any{"build failed"}})

	line := out.String()
	assert.Contains(t, line, "09:30:00")
	assert.Contains(t, line, "✖")
	assert.Contains(t, line, "[Compiler]")
	assert.Contains(t, line, "build failed")
}

func TestJSONOutputRoundTrip(t *testing.T) {
	var out bytes.Buffer
	r := New(Options{Output: &out, JSON: true})
	r.Process(Entry{Timestamp: time.Now(), Type: LevelWarn, Issuer: "engine", Message: []any{"slow build"}})

	e := ParseLine(bytes.TrimSpace(out.Bytes()), "ios")
	assert.Equal(t, LevelWarn, e.Type)
	assert.Equal(t, "ios:engine", e.Issuer)
	assert.Equal(t, "slow build", e.Text())
}

func TestParseLineFallback(t *testing.T) {
	e := ParseLine([]byte("plain text from a worker\n"), "android")
	assert.Equal(t, LevelInfo, e.Type)
	assert.Equal(t, "android", e.Issuer)
	assert.Equal(t, "plain text from a worker", e.Text())
}

func TestHandlerIssuerAndFields(t *testing.T) {
	r := New(Options{Output: &bytes.Buffer{}, BufferSize: 10})
	logger := r.Logger().With("component", "HMR", "platform", "ios")

	logger.Warn("client dropped", "client", "client#3", "err", errors.New("broken pipe"))

	recent := r.Recent()
	require.Len(t, recent, 1)
	e := recent[0]
	assert.Equal(t, "HMR", e.Issuer)
	assert.Equal(t, LevelWarn, e.Type)
	require.Len(t, e.Message, 2)
	assert.Equal(t, "client dropped", e.Message[0])

	fields, ok := e.Message[1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ios", fields["platform"])
	assert.Equal(t, "client#3", fields["client"])
	assert.Equal(t, "broken pipe", fields["err"])
}

func TestHandlerGroups(t *testing.T) {
	r := New(Options{Output: &bytes.Buffer{}, BufferSize: 10})
	r.Logger().With("a", 1).WithGroup("req").Info("served", "path", "/status")

	e := r.Recent()[0]
	data, err := json.Marshal(e.Message[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"req":{"path":"/status"}}`, string(data))
}

func TestLevelMapping(t *testing.T) {
	for _, l := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		assert.Equal(t, l, LevelFromSlog(l.Slog()))
	}
}

func TestHandlerEnabled(t *testing.T) {
	r := New(Options{Output: &bytes.Buffer{}, BufferSize: 10})
	r.Logger().Debug("nope")
	assert.Empty(t, r.Recent())
}
