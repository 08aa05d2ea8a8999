package symbolicate

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/vango-dev/devpack/internal/config"
)

// StackFrame is one frame of a stack trace reported by the app. Line numbers
// are 1-based and columns 0-based.
type StackFrame struct {
	File       string `json:"file,omitempty"`
	LineNumber *int   `json:"lineNumber"`
	Column     *int   `json:"column"`
	MethodName string `json:"methodName"`
	Collapse   bool   `json:"collapse"`
}

// CodeFrame is a rendered excerpt of original source around a frame.
type CodeFrame struct {
	Content  string   `json:"content"`
	Location Location `json:"location"`
	FileName string   `json:"fileName"`
}

// Location is the position a code frame points at.
type Location struct {
	Row    int `json:"row"`
	Column int `json:"column"`
}

// Result is the response body of a symbolication request.
type Result struct {
	Stack     []StackFrame `json:"stack"`
	CodeFrame *CodeFrame   `json:"codeFrame"`
}

// Request is the body of a symbolication request.
type Request struct {
	Stack []StackFrame `json:"stack"`
}

// InferPlatform returns the platform of the first frame that names one,
// either through a platform query parameter on its URL or through a
// "<name>.<platform>.<ext>" file name.
func InferPlatform(stack []StackFrame) (string, bool) {
	for _, f := range stack {
		if p, ok := PlatformFromURL(f.File); ok {
			return p, true
		}
	}
	return "", false
}

// PlatformFromURL extracts the platform from a bundle URL or file name.
// Names that are not valid platform names are ignored.
func PlatformFromURL(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if p := u.Query().Get("platform"); p != "" {
		return p, config.ValidPlatformName(p)
	}
	parts := strings.Split(path.Base(u.Path), ".")
	if len(parts) >= 3 && config.ValidPlatformName(parts[1]) {
		return parts[1], true
	}
	return "", false
}

// shouldLookup reports whether a frame points at a served bundle.
func shouldLookup(f StackFrame) bool {
	return strings.HasPrefix(f.File, "http") && !strings.Contains(f.File, "debuggerWorker")
}

var runtimeFile = regexp.MustCompile(`(^|[/\\])webpack[/\\](runtime|bootstrap)([/\\]|$)`)

// DefaultCollapse marks frames inside the bundler's generated runtime.
func DefaultCollapse(f StackFrame) bool {
	return runtimeFile.MatchString(f.File)
}
