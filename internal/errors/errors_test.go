package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		wantMsg    string
		wantCat    Category
		wantStatus int
	}{
		{
			name:       "asset not found",
			code:       "E202",
			wantMsg:    "Asset not found",
			wantCat:    CategoryAsset,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "platform inference",
			code:       "E203",
			wantMsg:    "Cannot infer platform",
			wantCat:    CategoryRequest,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "worker crash defaults to 500",
			code:       "E201",
			wantMsg:    "Worker crashed",
			wantCat:    CategoryWorker,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "unknown error code",
			code:       "E999",
			wantMsg:    "Unknown error",
			wantCat:    "",
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			assert.Equal(t, tt.wantMsg, err.Message)
			assert.Equal(t, tt.wantCat, err.Category)
			assert.Equal(t, tt.wantStatus, err.Status)
		})
	}
}

func TestErrorString(t *testing.T) {
	cause := fmt.Errorf("exit status 2")
	err := New("E201").WithPlatform("android").Wrap(cause)

	assert.Equal(t, "E201: Worker crashed (android): exit status 2", err.Error())
	assert.True(t, stderrors.Is(err, cause), "errors.Is should find the wrapped cause")
}

func TestIsCode(t *testing.T) {
	base := New("E202").WithPlatform("ios")
	wrapped := fmt.Errorf("serving index.bundle: %w", base)

	assert.True(t, IsCode(wrapped, "E202"), "IsCode should find E202 through fmt wrapping")
	assert.False(t, IsCode(wrapped, "E201"))
	assert.Equal(t, "E202", CodeOf(wrapped))
	assert.Empty(t, CodeOf(fmt.Errorf("plain")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(New("E203")))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatus(fmt.Errorf("wrap: %w", New("E207"))))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(fmt.Errorf("boom")))
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil, "E206"))

	existing := New("E202")
	assert.Same(t, existing, FromError(fmt.Errorf("ctx: %w", existing), "E206"),
		"FromError should return the Error already in the chain")

	plain := fmt.Errorf("dial tcp: connection refused")
	got := FromError(plain, "E206")
	assert.Equal(t, "E206", got.Code)
	assert.Equal(t, plain, got.Wrapped)
}

func TestRenderCodeFrame(t *testing.T) {
	lines := []string{
		"function a() {",
		"  const x = 1;",
		"  const y = x.z.w;",
		"  return y;",
		"}",
		"",
		"a();",
	}

	want := strings.Join([]string{
		"  1 | function a() {",
		"  2 |   const x = 1;",
		"> 3 |   const y = x.z.w;",
		"    |               ^",
		"  4 |   return y;",
		"  5 | }",
		"  6 |",
	}, "\n")
	assert.Equal(t, want, RenderCodeFrame(lines, 3, 15))
}

func TestRenderCodeFrameOutOfRange(t *testing.T) {
	assert.Empty(t, RenderCodeFrame([]string{"a"}, 5, 1))
	assert.Empty(t, RenderCodeFrame(nil, 1, 1), "empty source renders nothing")
}

func TestCodeFrameFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "App.js")
	require.NoError(t, os.WriteFile(file, []byte("one\r\ntwo\r\nthree\r\n"), 0644))

	assert.Contains(t, CodeFrameFromFile(file, 2, 1), "> 2 | two")
	assert.Empty(t, CodeFrameFromFile(filepath.Join(dir, "missing.js"), 1, 1), "missing file should render nothing")
}

func TestFormat(t *testing.T) {
	DisableColors()
	defer EnableColors()

	err := New("E200").
		WithPlatform("ios").
		WithSuggestion("Check engine.command in devpack.json").
		Wrap(fmt.Errorf("exec: \"webpack\": not found"))

	out := err.Format()
	for _, want := range []string{"ERROR E200: Worker spawn failed", "[ios]", "Cause: exec:", "Hint: Check engine.command"} {
		assert.Contains(t, out, want)
	}
}

func TestMarshalJSON(t *testing.T) {
	err := New("E203").WithDetail("no platform in /index.bundle")
	data, jerr := json.Marshal(err)
	require.NoError(t, jerr)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "E203", decoded["code"])
	assert.Equal(t, "request", decoded["category"])
	assert.Equal(t, "no platform in /index.bundle", decoded["detail"])
}

func TestAllCodesHaveTemplates(t *testing.T) {
	for _, code := range GetAllCodes() {
		tmpl, ok := GetTemplate(code)
		assert.True(t, ok, code)
		assert.NotEmpty(t, tmpl.Message, code)
		assert.NotEmpty(t, tmpl.Category, code)
	}
}
