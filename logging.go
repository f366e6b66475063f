package netcopy

import (
	"log/slog"
	"strings"
)

// SanitizeForLog removes newlines and control characters from user-provided
// strings so they cannot forge log entries.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(' ')
		case r >= 32 && r != 127:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// logID is the form in which identifiers appear in logs.
func logID(id string) slog.Attr {
	return slog.String("id", SanitizeForLog(RedactIdentifier(id)))
}
