package model

import "time"

// Role gates the admin surface.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStaff   Role = "staff"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStaff:
		return true
	}
	return false
}

// User is an employee or teacher account. PasswordHash never leaves the server.
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         Role   `json:"role"`
	NIP          string `json:"nip"`
	PasswordHash string `json:"-"`
	Avatar       string `json:"avatar,omitempty"`
}

// Direction says whether an attendance record is an arrival or a departure.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Valid reports whether d is "in" or "out".
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// Location is a coordinate with a human readable address.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

// AttendanceRecord is one check-in or check-out event.
type AttendanceRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Timestamp time.Time `json:"timestamp"`
	Day       string    `json:"day"` // local calendar date, YYYY-MM-DD
	Type      Direction `json:"type"`
	Photo     string    `json:"photo"`
	Location  Location  `json:"location"`
}

// JournalEntry is a free-form teaching log.
type JournalEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Date      string    `json:"date"`
	Subject   string    `json:"subject"`
	ClassName string    `json:"className"`
	Material  string    `json:"material"`
	Notes     string    `json:"notes"`
	Photo     string    `json:"photo,omitempty"`
	Location  *Location `json:"location,omitempty"`
}

// PermissionType is the reason category of a leave request.
type PermissionType string

const (
	PermissionSick  PermissionType = "sick"
	PermissionLeave PermissionType = "leave"
	PermissionDuty  PermissionType = "duty"
)

// Valid reports whether t is a known permission type.
func (t PermissionType) Valid() bool {
	switch t {
	case PermissionSick, PermissionLeave, PermissionDuty:
		return true
	}
	return false
}

// PermissionStatus is the review state of a leave request.
type PermissionStatus string

const (
	PermissionPending  PermissionStatus = "Pending"
	PermissionApproved PermissionStatus = "Approved"
	PermissionRejected PermissionStatus = "Rejected"
)

// Decision reports whether s is a reviewer decision (approved or rejected).
func (s PermissionStatus) Decision() bool {
	return s == PermissionApproved || s == PermissionRejected
}

// PermissionRequest is a sick/leave/duty request awaiting admin review.
type PermissionRequest struct {
	ID         string           `json:"id"`
	UserID     string           `json:"userId"`
	UserName   string           `json:"userName"`
	Type       PermissionType   `json:"type"`
	DateStart  string           `json:"dateStart"`
	DateEnd    string           `json:"dateEnd"`
	Reason     string           `json:"reason"`
	Status     PermissionStatus `json:"status"`
	Attachment string           `json:"attachment,omitempty"`
}

// SchoolLocation is the geofence centre and radius in meters.
type SchoolLocation struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Radius  float64 `json:"radius"`
	Address string  `json:"address"`
}

// AttendanceHours are HH:MM wall-clock windows.
type AttendanceHours struct {
	StartIn  string `json:"startIn"`
	EndIn    string `json:"endIn"`
	StartOut string `json:"startOut"`
	EndOut   string `json:"endOut"`
}

// Settings is the global configuration record. Version increases on every replace.
type Settings struct {
	SchoolLocation  SchoolLocation  `json:"schoolLocation"`
	AttendanceHours AttendanceHours `json:"attendanceHours"`
	Version         int64           `json:"version"`
}

// DefaultSettings returns the out-of-the-box school configuration.
func DefaultSettings() Settings {
	return Settings{
		SchoolLocation: SchoolLocation{
			Lat:     -6.175392,
			Lng:     106.827153,
			Radius:  100,
			Address: "Pusat Sekolah (Default: Monas Jakarta)",
		},
		AttendanceHours: AttendanceHours{
			StartIn:  "06:30",
			EndIn:    "08:30",
			StartOut: "15:00",
			EndOut:   "17:30",
		},
		Version: 1,
	}
}

// NotificationType drives how a notification is rendered.
type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
)

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationInfo, NotificationSuccess, NotificationWarning, NotificationError:
		return true
	}
	return false
}

// Notification is one entry in a user's feed.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	IsRead    bool             `json:"isRead"`
}
