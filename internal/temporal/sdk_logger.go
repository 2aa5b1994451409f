package temporal

import (
	"fmt"

	"flowspec/internal/logging"
)

// sdkLogger adapts the structured logger to the key-value interface the
// Temporal SDK expects.
type sdkLogger struct {
	logger *logging.Logger
}

func newSDKLogger(logger *logging.Logger) *sdkLogger {
	return &sdkLogger{logger: logger}
}

func (l *sdkLogger) Debug(msg string, keyvals ...interface{}) {
	l.forward((*logging.Logger).Debug, msg, keyvals)
}

func (l *sdkLogger) Info(msg string, keyvals ...interface{}) {
	l.forward((*logging.Logger).Info, msg, keyvals)
}

func (l *sdkLogger) Warn(msg string, keyvals ...interface{}) {
	l.forward((*logging.Logger).Warn, msg, keyvals)
}

func (l *sdkLogger) Error(msg string, keyvals ...interface{}) {
	l.forward((*logging.Logger).Error, msg, keyvals)
}

func (l *sdkLogger) forward(emit func(*logging.Logger, string, map[string]string), message string, keyvals []interface{}) {
	if l == nil || l.logger == nil {
		return
	}
	emit(l.logger, message, sdkFields(keyvals))
}

// sdkFields flattens the SDK's alternating key-value list. An odd trailing
// value is kept under a placeholder key instead of being dropped.
func sdkFields(keyvals []interface{}) map[string]string {
	fields := map[string]string{"source": "temporal-sdk"}
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if i+1 < len(keyvals) {
			fields[key] = fmt.Sprint(keyvals[i+1])
		} else {
			fields["_dangling"] = key
		}
	}
	return fields
}
