// internal/observability/records.go
package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/scraperflow/api/schemas"
)

// LogRecord writes one execution record to logger. Error records are logged
// at warn level; the execution itself already logged the failure.
func LogRecord(logger *zap.Logger, rec schemas.ExecutionInfo) {
	level := zapcore.InfoLevel
	if rec.Type == schemas.InfoError {
		level = zapcore.WarnLevel
	}
	if ce := logger.Check(level, string(rec.Type)); ce != nil {
		ce.Write(RecordFields(rec)...)
	}
}

// RecordFields flattens the payload of an execution record into zap fields.
func RecordFields(rec schemas.ExecutionInfo) []zap.Field {
	switch d := rec.Data.(type) {
	case schemas.PageOpenedInfo:
		fields := []zap.Field{zap.Int("page", d.PageIndex)}
		if d.PortalURL != "" {
			fields = append(fields, zap.String("portal", d.PortalURL))
		}
		return fields
	case schemas.InstructionInfo:
		fields := []zap.Field{
			zap.String("kind", string(d.Kind)),
			zap.String("summary", d.Summary),
			zap.Int("level", d.Level),
			zap.Duration("took", d.Duration),
		}
		if d.IsMet != nil {
			fields = append(fields, zap.Bool("is_met", *d.IsMet))
		}
		return fields
	case schemas.ExternalDataOperationInfo:
		fields := []zap.Field{zap.String("operation", string(d.Operation))}
		if d.Key != "" {
			fields = append(fields, zap.String("key", d.Key))
		}
		if d.SourceName != "" {
			fields = append(fields, zap.String("source", d.SourceName))
		}
		if d.Value != nil {
			fields = append(fields, zap.Any("value", d.Value))
		}
		return fields
	case schemas.SuccessInfo:
		return []zap.Field{zap.Duration("took", d.Duration)}
	case schemas.ErrorInfo:
		return []zap.Field{zap.String("message", d.Message), zap.Duration("took", d.Duration)}
	default:
		return []zap.Field{zap.Any("data", rec.Data)}
	}
}
