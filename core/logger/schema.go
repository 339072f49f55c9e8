package logger

import "strings"

const (
	// LevelDebug is the rendered debug level name.
	LevelDebug = "DEBUG"
	// LevelInfo is the rendered info level name.
	LevelInfo = "INFO"
	// LevelWarn is the rendered warn level name.
	LevelWarn = "WARN"
	// LevelError is the rendered error level name.
	LevelError = "ERROR"
)

var levelNames = map[string]string{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

// Known values for enumerated fields. Unknown status values pass through,
// unknown outcome values are dropped.
var (
	knownStatus  = []string{"ok", "fail", "skip", "retry", "rate_limited", "cancelled", "evicted"}
	knownOutcome = []string{"fired", "ignored", "rejected"}
)

func normalizeLevel(level string) string {
	if level == "" {
		return LevelInfo
	}
	if mapped, ok := levelNames[strings.ToLower(level)]; ok {
		return mapped
	}
	return strings.ToUpper(level)
}

func normalizeEnum(value string, known []string) (string, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, k := range known {
		if value == k {
			return k, true
		}
	}
	return value, false
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"trace_id",
	"span_id",
	"ts_unix_nano",
	"update_id",
	"user_id",
	"chat_id",
	"conv_id",
	"state",
	"handler",
	"op",
	"ev",
	"from",
	"via",
	"to",
	"outcome",
	"synthetic",
	"steps",
	"duration_ms",
	"queued",
	"sessions",
	"workers",
	"shards",
	"mode",
	"listen",
	"public_url",
	"http_code",
	"db",
	"host",
	"port",
	"text",
	"err",
	"err_code",
	"cause",
	"retryable",
	"attempts",
	"backoff_ms",
	"rate_limited",
}
