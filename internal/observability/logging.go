package observability

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/formengine/internal/config"
	"github.com/pitabwire/formengine/model"
)

// NewLogger builds the JSON process logger. Unknown levels fall back to info.
//
// Levels: error for infrastructure failures and 5xx responses; warn for 4xx,
// malformed logic rules and sync failures; info for requests, transitions and
// payments; debug for page rebuilds, rejected transitions and field errors.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	zc.InitialFields = map[string]any{"service": "formengine", "version": Version}
	return zc.Build()
}

// RequestLogger returns logger tagged with the session identity carried by
// ctx. Empty identity fields are left out.
func RequestLogger(ctx context.Context, logger *zap.Logger) *zap.Logger {
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}
	var fields []zap.Field
	for _, f := range [...]struct{ key, val string }{
		{"session_id", rctx.SessionID},
		{"form_id", rctx.FormID},
		{"subject_id", rctx.SubjectID},
		{"correlation_id", rctx.CorrelationID},
		{"trace_id", rctx.TraceID},
	} {
		if f.val != "" {
			fields = append(fields, zap.String(f.key, f.val))
		}
	}
	return logger.With(fields...)
}

const redacted = "[REDACTED]"

// maxLoggedBody bounds the size of a backend body written to the log.
const maxLoggedBody = 1024

// secretKeys are answer and payload keys whose values never reach the log.
// Matching ignores case.
var secretKeys = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"captcha_token": true,
	"client_secret": true,
	"authorization": true,
	"card_number":   true,
	"cvc":           true,
	"cvv":           true,
	"expiry":        true,
	"iban":          true,
	"ssn":           true,
}

// RedactAnswers returns a copy of answers fit for logging: values under
// secret keys are masked at any depth, including inside payment blocks and
// repeated groups.
func RedactAnswers(answers model.Answers) map[string]any {
	if answers == nil {
		return nil
	}
	return redactMap(answers)
}

// RedactJSON renders a backend body for logging. JSON documents are masked
// like answers; anything else is truncated and logged as is.
func RedactJSON(body []byte) string {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return truncate(string(body))
	}
	out, err := json.Marshal(redactValue(doc))
	if err != nil {
		return truncate(string(body))
	}
	return truncate(string(out))
}

func redactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if secretKeys[strings.ToLower(k)] {
			out[k] = redacted
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return redactMap(t)
	case model.Answers:
		return redactMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = redactValue(e)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = redactMap(e)
		}
		return out
	}
	return v
}

func truncate(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	return s[:maxLoggedBody] + "..."
}
