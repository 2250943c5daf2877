package sanitize

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	// MaxLabelLength is the maximum allowed length in bytes for one file name part.
	MaxLabelLength = 80
	// DefaultLabel replaces empty category or quality labels.
	DefaultLabel = "unknown"
	// CaptureExt is the extension of capture files.
	CaptureExt = "pcap"
	// TimestampLayout is the timestamp format embedded in capture file names.
	TimestampLayout = "20060102150405"
	// PendingTag marks a capture whose quality is not yet known.
	PendingTag = "pending"
)

var unsafeChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// ToSafeLabel replaces path-unsafe characters with underscores.
func ToSafeLabel(s string) string {
	name := strings.TrimSpace(s)
	if name == "" {
		name = DefaultLabel
	}
	name = unsafeChars.ReplaceAllString(name, "_")
	return truncate(name, MaxLabelLength)
}

// ToSafeQuality is ToSafeLabel with all spaces removed.
func ToSafeQuality(s string) string {
	q := strings.ReplaceAll(ToSafeLabel(s), " ", "")
	q = strings.ReplaceAll(q, "　", "")
	if q == "" {
		return DefaultLabel
	}
	return q
}

// Timestamp formats t for use in capture file names.
func Timestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// PendingCaptureName returns "{label}_pending_{ts}.pcap".
func PendingCaptureName(label, ts string) string {
	return filepath.Clean(fmt.Sprintf("%s_%s_%s.%s", ToSafeLabel(label), PendingTag, ts, CaptureExt))
}

// FinalCaptureName returns "{label}_{quality}_{ts}.pcap".
func FinalCaptureName(label, quality, ts string) string {
	return filepath.Clean(fmt.Sprintf("%s_%s_%s.%s", ToSafeLabel(label), ToSafeQuality(quality), ts, CaptureExt))
}

// WithSuffix inserts "_{n}" before the extension of name.
func WithSuffix(name string, n int) string {
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := 0
	for i := range s {
		if i > max {
			break
		}
		cut = i
	}
	return s[:cut]
}
