package normalizer

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/models"
)

var (
	// "2026-08-29T10:30:45.123Z hostname service[pid]: message"
	syslogISO = regexp.MustCompile(
		`^(?P<timestamp>\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?Z?)\s+` +
			`(?P<hostname>\S+)\s+` +
			`(?P<service>\S+?)(?:\[\d+\])?\s*:\s*` +
			`(?P<message>.*)$`)

	// "Aug 29 10:30:45 hostname service: message"
	syslogBSD = regexp.MustCompile(
		`^(?P<month>\w+)\s+(?P<day>\d+)\s+(?P<time>\d{2}:\d{2}:\d{2})\s+` +
			`(?P<hostname>\S+)\s+` +
			`(?P<service>\S+)\s*:\s*` +
			`(?P<message>.*)$`)

	traceIDKeyed = regexp.MustCompile(`(?i)trace[-_]?id[=:]\s*([0-9a-f]{32})`)
	traceIDBare  = regexp.MustCompile(`(?i)\b([0-9a-f]{32})\b`)

	syslogMonths = map[string]string{
		"Jan": "01", "Feb": "02", "Mar": "03", "Apr": "04",
		"May": "05", "Jun": "06", "Jul": "07", "Aug": "08",
		"Sep": "09", "Oct": "10", "Nov": "11", "Dec": "12",
	}
)

// NormalizeSyslogLine parses a raw syslog line into a normalized log record,
// extracting an embedded trace id from the message when present. Lines that
// match no known pattern come back as a minimally parsed record, never an
// error.
func (n *Normalizer) NormalizeSyslogLine(line, service string) models.NormalizedLogRecord {
	if match := syslogISO.FindStringSubmatch(line); match != nil {
		message := match[4]

		return models.NormalizedLogRecord{
			TraceID:   extractTraceID(message),
			Service:   match[3],
			Host:      match[2],
			Env:       defaultEnv,
			Timestamp: match[1],
			Severity:  inferSeverity(message),
			Message:   message,
		}
	}

	if match := syslogBSD.FindStringSubmatch(line); match != nil {
		message := match[6]

		return models.NormalizedLogRecord{
			TraceID:   extractTraceID(message),
			Service:   match[5],
			Host:      match[4],
			Env:       defaultEnv,
			Timestamp: bsdTimestamp(match[1], match[2], match[3]),
			Severity:  inferSeverity(message),
			Message:   message,
		}
	}

	n.logger.Warn().Str("line", truncate(line, 100)).Msg("Failed to parse syslog line")

	return models.NormalizedLogRecord{
		TraceID:   extractTraceID(line),
		Service:   service,
		Env:       defaultEnv,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Severity:  "INFO",
		Message:   line,
	}
}

func extractTraceID(message string) string {
	if match := traceIDKeyed.FindStringSubmatch(message); match != nil {
		return strings.ToLower(match[1])
	}

	if match := traceIDBare.FindStringSubmatch(message); match != nil {
		return strings.ToLower(match[1])
	}

	return ""
}

func inferSeverity(message string) string {
	lower := strings.ToLower(message)

	switch {
	case containsAny(lower, "error", "fail", "exception", "critical"):
		return "ERROR"
	case containsAny(lower, "warn"):
		return "WARN"
	case containsAny(lower, "debug"):
		return "DEBUG"
	default:
		return "INFO"
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}

	return false
}

func bsdTimestamp(month, day, clock string) string {
	monthNum, ok := syslogMonths[month]
	if !ok {
		return time.Now().UTC().Format(time.RFC3339)
	}

	// BSD syslog omits the year; assume the current one.
	year := time.Now().UTC().Year()

	if len(day) == 1 {
		day = "0" + day
	}

	return fmt.Sprintf("%d-%s-%sT%s.000Z", year, monthNum, day, clock)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	return s[:limit]
}
