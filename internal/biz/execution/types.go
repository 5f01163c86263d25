package execution

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusError     RunStatus = "error"
	RunStatusCancelled RunStatus = "cancelled"
)

type TriggerSource string

const (
	TriggerManual   TriggerSource = "manual"
	TriggerSchedule TriggerSource = "schedule"
	TriggerWebhook  TriggerSource = "webhook"
	TriggerUser     TriggerSource = "user"
)

func ParseTriggerSource(s string) TriggerSource {
	switch TriggerSource(s) {
	case TriggerSchedule, TriggerWebhook, TriggerUser:
		return TriggerSource(s)
	default:
		return TriggerManual
	}
}

type LogEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}
