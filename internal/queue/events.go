package queue

import "time"

// Event types carried on the queue.
const (
	TypeAttendanceRecorded = "attendance.recorded"
	TypePermissionDecided  = "permission.decided"
)

// AttendanceRecorded is published after a check-in or check-out is stored.
type AttendanceRecorded struct {
	RecordID  string    `json:"recordId"`
	UserID    string    `json:"userId"`
	Direction string    `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
}

// PermissionDecided is published when an admin changes a request's status.
type PermissionDecided struct {
	PermissionID string `json:"permissionId"`
	UserID       string `json:"userId"`
	Status       string `json:"status"`
}
