package models

import "fmt"

// HealthRecord is the process-wide health published for the container runtime.
type HealthRecord struct {
	ExitCode int
	Message  string
}

// String renders the record in its on-disk form.
func (h HealthRecord) String() string {
	return fmt.Sprintf("%d %s\n", h.ExitCode, h.Message)
}

var (
	HealthStarting = HealthRecord{ExitCode: 1, Message: "starting"}
	HealthRunning  = HealthRecord{ExitCode: 0, Message: "running"}
)

// HealthRestarting is published after a failure once the device had been ready.
func HealthRestarting(reason string) HealthRecord {
	return HealthRecord{ExitCode: 1, Message: reason + " — restarting"}
}
