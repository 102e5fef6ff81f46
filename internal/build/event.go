package build

import (
	"deploybuild/pkg/cloudevent"
	"fmt"
	"time"
)

// EventTypeBatchCompleted is the callback sent when a batch finishes.
const EventTypeBatchCompleted = "deploybuild.batch.completed"

// batchEventData is the payload of EventTypeBatchCompleted.
type batchEventData struct {
	Mode         Mode     `json:"mode"`
	DTs          []string `json:"dt_list"`
	Target       *Target  `json:"target,omitempty"`
	Success      bool     `json:"success"`
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
	Successful   []string `json:"successful"`
	Failed       []string `json:"failed"`
	Message      string   `json:"message"`
	DurationMs   int64    `json:"duration_ms"`
}

// NewBatchEvent builds the completion event for a finished report.
func NewBatchEvent(source, batchID string, report *Report, duration time.Duration) *cloudevent.CloudEvent {
	data := batchEventData{
		Mode:         report.Mode,
		DTs:          report.DTs,
		Target:       report.Target,
		Success:      report.OK(),
		SuccessCount: report.SuccessCount(),
		FailureCount: report.FailureCount(),
		Successful:   report.Successful(),
		Failed:       report.Failed(),
		Message:      report.Message(),
		DurationMs:   duration.Milliseconds(),
	}
	eventID := fmt.Sprintf("%s-%d", batchID, time.Now().UnixNano())
	return cloudevent.New(EventTypeBatchCompleted, source, batchID, eventID, data)
}
