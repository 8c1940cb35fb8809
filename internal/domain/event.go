package domain

import (
	"fmt"
	"time"
)

type Severity string

const (
	SeverityDebug Severity = "DEBUG"
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

const (
	OriginScheduler = "scheduler"
	OriginUpload    = "upload"
)

func JobOrigin(job string) string {
	return "job:" + job
}

// Event is one timestamped log line of the live stream. An event with
// Dropped > 0 is a gap marker telling a subscriber that it lost events.
type Event struct {
	Seq      uint64    `json:"seq"`
	Time     time.Time `json:"time"`
	Severity Severity  `json:"severity"`
	Origin   string    `json:"origin"`
	Message  string    `json:"message"`
	Dropped  int       `json:"dropped,omitempty"`
}

func (e Event) IsGap() bool {
	return e.Dropped > 0
}

func NewEvent(severity Severity, origin, format string, args ...interface{}) Event {
	return Event{
		Time:     time.Now(),
		Severity: severity,
		Origin:   origin,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Publisher accepts events for the live stream.
type Publisher interface {
	Publish(e Event)
}
