package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
)

// ErrJSON produces a standard JSON error response.
func ErrJSON(msg string) map[string]any {
	return map[string]any{
		"success": false,
		"error":   msg,
	}
}

// PrettyJSON marshals with indentation.
func PrettyJSON(v any) string {
	data, _ := json.MarshalIndent(v, "", "  ")
	return string(data)
}

// LimitStr returns a string truncated to n runes with "..." appended if longer.
func LimitStr(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// CleanJSON removes markdown code blocks and any prose around the outermost
// JSON object.
func CleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		lines := strings.Split(s, "\n")
		if len(lines) >= 2 {
			if strings.HasPrefix(lines[0], "```") {
				lines = lines[1:]
			}
			if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
				lines = lines[:len(lines)-1]
			}
			s = strings.Join(lines, "\n")
		}
	}
	if i := strings.Index(s, "{"); i > 0 {
		s = s[i:]
	}
	if j := strings.LastIndex(s, "}"); j != -1 && j < len(s)-1 {
		s = s[:j+1]
	}
	return strings.TrimSpace(s)
}

var unsafeFilenameRX = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename replaces everything outside [A-Za-z0-9._-] with underscores
// and strips leading dots.
func SanitizeFilename(s string) string {
	s = strings.TrimSpace(s)
	s = unsafeFilenameRX.ReplaceAllString(s, "_")
	s = strings.TrimLeft(s, ".")
	return s
}

// Slug lowercases s, turns spaces into underscores, sanitizes it and limits it to n bytes.
func Slug(s string, n int) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = SanitizeFilename(s)
	if len(s) > n {
		s = s[:n]
	}
	if s == "" {
		s = "story"
	}
	return s
}

type SSEWriter struct {
	w    http.ResponseWriter
	fl   http.Flusher
	done bool
}

var ErrSSEUnsupported = errors.New("SSE not supported: ResponseWriter not flushable")

// NewSSEWriter initializes SSE headers and returns a writer.
func NewSSEWriter(c echo.Context) (*SSEWriter, error) {
	w := c.Response()
	f, ok := w.Writer.(http.Flusher)
	if !ok {
		return nil, ErrSSEUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &SSEWriter{w: w, fl: f}, nil
}

// Event sends an SSE event with an event name and data (struct/map/string).
func (s *SSEWriter) Event(event string, data any) error {
	if s.done {
		return nil
	}
	var payload string
	switch v := data.(type) {
	case string:
		payload = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		payload = string(b)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.fl.Flush()
	return nil
}

// Close finalizes the stream.
func (s *SSEWriter) Close() {
	if s.done {
		return
	}
	s.done = true
	fmt.Fprint(s.w, "event: close\ndata: null\n\n")
	s.fl.Flush()
}
