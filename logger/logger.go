package logger

import "context"

const (
	PanicLevel uint = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
	TraceLevel
)

type Logger interface {
	Log(ctx context.Context, level uint, fields map[string]interface{}, v ...interface{})
}

var defaultLogger Logger = NewLog()

// SetLogger replaces the logger used by the package-level Log. Not safe to
// call while other goroutines are logging.
func SetLogger(l Logger) {
	defaultLogger = l
}

func Log(ctx context.Context, level uint, fields map[string]interface{}, v ...interface{}) {
	defaultLogger.Log(ctx, level, fields, v...)
}
