package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	codeStyle   = lipgloss.NewStyle().Bold(true)
	pathStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	gutterStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	caretStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// colorEnabled controls whether styles are applied.
var colorEnabled = true

// DisableColors disables styled output.
func DisableColors() {
	colorEnabled = false
}

// EnableColors enables styled output.
func EnableColors() {
	colorEnabled = true
}

func render(s lipgloss.Style, text string) string {
	if !colorEnabled {
		return text
	}
	return s.Render(text)
}

// Format returns the error formatted for terminal display.
func (e *Error) Format() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(render(errorStyle, "ERROR "))
	if e.Code != "" {
		b.WriteString(render(codeStyle, e.Code+": "))
	}
	b.WriteString(e.Message)
	if e.Platform != "" {
		b.WriteString(render(gutterStyle, " ["+e.Platform+"]"))
	}
	b.WriteString("\n\n")

	if e.Location != nil {
		b.WriteString("  ")
		b.WriteString(render(pathStyle, e.Location.String()))
		b.WriteString("\n\n")
		if frame := CodeFrameFromFile(e.Location.File, e.Location.Line, e.Location.Column); frame != "" {
			for _, line := range strings.Split(frame, "\n") {
				b.WriteString("  ")
				if strings.HasPrefix(line, "> ") {
					line = render(caretStyle, ">") + line[1:]
				}
				b.WriteString(line)
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}

	if e.Detail != "" {
		for _, line := range wrapText(e.Detail, 70) {
			b.WriteString("  ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if e.Wrapped != nil {
		b.WriteString("  ")
		b.WriteString(render(gutterStyle, "Cause: "))
		b.WriteString(e.Wrapped.Error())
		b.WriteString("\n\n")
	}

	if e.Suggestion != "" {
		b.WriteString("  ")
		b.WriteString(render(hintStyle, "Hint: "))
		b.WriteString(e.Suggestion)
		b.WriteString("\n")
	}

	return b.String()
}

// FormatCompact returns a compact single-line error format.
func (e *Error) FormatCompact() string {
	var b strings.Builder
	if e.Location != nil {
		b.WriteString(e.Location.String())
		b.WriteString(": ")
	}
	b.WriteString(e.Error())
	return b.String()
}

type jsonError struct {
	Code       string    `json:"code,omitempty"`
	Category   Category  `json:"category"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	Platform   string    `json:"platform,omitempty"`
	Location   *Location `json:"location,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
	Cause      string    `json:"cause,omitempty"`
}

// MarshalJSON renders the error as the JSON body returned to HTTP callers.
func (e *Error) MarshalJSON() ([]byte, error) {
	je := jsonError{
		Code:       e.Code,
		Category:   e.Category,
		Message:    e.Message,
		Detail:     e.Detail,
		Platform:   e.Platform,
		Location:   e.Location,
		Suggestion: e.Suggestion,
	}
	if e.Wrapped != nil {
		je.Cause = e.Wrapped.Error()
	}
	return json.Marshal(je)
}

// RenderCodeFrame renders lines around a 1-based line and column as plain
// text. lines holds the whole source. Two lines above and three below the
// target are shown.
func RenderCodeFrame(lines []string, line, column int) string {
	if line < 1 || line > len(lines) {
		return ""
	}
	start := max(line-2, 1)
	end := min(line+3, len(lines))
	width := len(strconv.Itoa(end))

	var b strings.Builder
	for n := start; n <= end; n++ {
		num := fmt.Sprintf("%*d", width, n)
		marker := "  "
		if n == line {
			marker = "> "
		}
		b.WriteString(marker)
		b.WriteString(num + " |")
		if text := lines[n-1]; text != "" {
			b.WriteString(" ")
			b.WriteString(text)
		}
		if n == line && column > 0 {
			b.WriteString("\n  ")
			b.WriteString(strings.Repeat(" ", width) + " |")
			b.WriteString(" ")
			b.WriteString(caretIndent(lines[n-1], column-1))
			b.WriteString("^")
		}
		if n < end {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// caretIndent keeps tabs so the caret lines up under tab-indented source.
func caretIndent(text string, n int) string {
	var b strings.Builder
	for i, r := range text {
		if i >= n {
			break
		}
		if r == '\t' {
			b.WriteRune('\t')
		} else {
			b.WriteByte(' ')
		}
	}
	for i := len(text); i < n; i++ {
		b.WriteByte(' ')
	}
	return b.String()
}

// CodeFrameFromFile reads filename and renders a code frame for it, or
// returns "" if the file cannot be read.
func CodeFrameFromFile(filename string, line, column int) string {
	data, err := os.ReadFile(filename)
	if err != nil {
		return ""
	}
	return RenderCodeFrame(SplitLines(string(data)), line, column)
}

// SplitLines splits source text on \n, \r\n and \r.
func SplitLines(src string) []string {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	src = strings.ReplaceAll(src, "\r", "\n")
	return strings.Split(src, "\n")
}

// wrapText wraps text to the specified width.
func wrapText(text string, width int) []string {
	if text == "" {
		return nil
	}
	if len(text) <= width {
		return []string{text}
	}

	var lines []string
	words := strings.Fields(text)
	var current strings.Builder

	for _, word := range words {
		if current.Len()+len(word)+1 > width {
			if current.Len() > 0 {
				lines = append(lines, current.String())
				current.Reset()
			}
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(word)
	}

	if current.Len() > 0 {
		lines = append(lines, current.String())
	}

	return lines
}

// PrintError writes a formatted error to stderr.
func PrintError(err error) {
	FprintError(os.Stderr, err)
}

// FprintError writes a formatted error to w.
func FprintError(w io.Writer, err error) {
	var e *Error
	if stderrors.As(err, &e) {
		fmt.Fprint(w, e.Format())
		return
	}
	fmt.Fprintf(w, "\n%s %s\n\n", render(errorStyle, "ERROR:"), err.Error())
}
