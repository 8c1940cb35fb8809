package logger

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// CronLogger adapts Logger to cron.Logger so cron's own messages land in
// the application log.
type CronLogger struct {
	log *Logger
}

var _ cron.Logger = (*CronLogger)(nil)

func NewCronLogger(l *Logger) *CronLogger {
	return &CronLogger{log: l}
}

func (c *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debugw(msg, normalize(keysAndValues)...)
}

func (c *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Errorw(msg, append(normalize(keysAndValues), "error", err)...)
}

// normalize makes sure keys are strings and every key has a value.
func normalize(keysAndValues []interface{}) []interface{} {
	out := make([]interface{}, 0, len(keysAndValues)+1)
	for i := 0; i < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprintf("unknown_key_%d", i/2)
		}
		if i+1 < len(keysAndValues) {
			out = append(out, key, keysAndValues[i+1])
		} else {
			out = append(out, key, "<missing_value>")
		}
	}
	return out
}
