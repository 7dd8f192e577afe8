// Package store persists users, attendance, journals, permissions, settings and
// notifications. Backends: PostgreSQL (pgx), SQLite (gorm) and a JSON flat file.
//
// No backend validates userId references; deleting a user leaves that user's
// records in place.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"schoolattendance/internal/model"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicateNIP    = errors.New("nip already registered")
	ErrAlreadyRecorded = errors.New("attendance already recorded for this direction today")
)

// DefaultNotificationCap bounds the notification feed across all users.
const DefaultNotificationCap = 500

// AttendanceFilter narrows attendance listings. Empty fields match everything.
type AttendanceFilter struct {
	UserID string
	Day    string // YYYY-MM-DD
}

// PermissionFilter narrows permission listings.
type PermissionFilter struct {
	UserID string
	Status model.PermissionStatus
}

// Users stores accounts.
type Users interface {
	ListUsers(ctx context.Context) ([]model.User, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	GetUserByNIP(ctx context.Context, nip string) (model.User, error)
	CreateUser(ctx context.Context, u model.User) (model.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// Attendance stores check-in/out events, at most one per user, day and direction.
type Attendance interface {
	ListAttendance(ctx context.Context, f AttendanceFilter) ([]model.AttendanceRecord, error)
	GetAttendance(ctx context.Context, id string) (model.AttendanceRecord, error)
	CreateAttendance(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error)
	UpdateAttendancePhoto(ctx context.Context, id, photo string) error
}

// Journals stores teaching logs.
type Journals interface {
	ListJournals(ctx context.Context, userID string) ([]model.JournalEntry, error)
	GetJournal(ctx context.Context, id string) (model.JournalEntry, error)
	CreateJournal(ctx context.Context, e model.JournalEntry) (model.JournalEntry, error)
	DeleteJournal(ctx context.Context, id string) error
}

// Permissions stores leave requests. CreatePermission always stores Pending;
// UpdatePermissionStatus does not stop a resolved request from changing again.
type Permissions interface {
	ListPermissions(ctx context.Context, f PermissionFilter) ([]model.PermissionRequest, error)
	GetPermission(ctx context.Context, id string) (model.PermissionRequest, error)
	CreatePermission(ctx context.Context, p model.PermissionRequest) (model.PermissionRequest, error)
	UpdatePermissionStatus(ctx context.Context, id string, status model.PermissionStatus) (model.PermissionRequest, error)
}

// Settings is the versioned global configuration record.
type Settings interface {
	GetSettings(ctx context.Context) (model.Settings, error)
	ReplaceSettings(ctx context.Context, s model.Settings) (model.Settings, error)
}

// Notifications is a feed capped globally; the oldest entries are evicted first.
type Notifications interface {
	ListNotifications(ctx context.Context, userID string) ([]model.Notification, error)
	CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, userID string) (int, error)
	CountNotifications(ctx context.Context) (int, error)
}

// Store bundles every collection behind one backend.
type Store interface {
	Users
	Attendance
	Journals
	Permissions
	Settings
	Notifications

	Ping(ctx context.Context) error
	Close() error
}

func newID() string { return uuid.NewString() }

// SeedUsers creates the given users when the user collection is empty and
// returns how many were inserted.
func SeedUsers(ctx context.Context, users Users, seed []model.User) (int, error) {
	existing, err := users.ListUsers(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	n := 0
	for _, u := range seed {
		if _, err := users.CreateUser(ctx, u); err != nil {
			if errors.Is(err, ErrDuplicateNIP) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}
