package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattendance/internal/model"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type backendFactory func(t *testing.T, notificationCap int) Store

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"sqlite": func(t *testing.T, notificationCap int) Store {
			st, err := NewSQLite(filepath.Join(t.TempDir(), "attendance.db"), notificationCap, quietLogger())
			require.NoError(t, err)
			t.Cleanup(func() { st.Close() })
			return st
		},
		"file": func(t *testing.T, notificationCap int) Store {
			st, err := NewFile(filepath.Join(t.TempDir(), "db.json"), notificationCap, quietLogger())
			require.NoError(t, err)
			return st
		},
		"postgres": func(t *testing.T, notificationCap int) Store {
			dsn := os.Getenv("TEST_DATABASE_URL")
			if dsn == "" {
				t.Skip("TEST_DATABASE_URL not set")
			}
			ctx := context.Background()
			st, err := NewPostgres(ctx, dsn, notificationCap)
			require.NoError(t, err)
			t.Cleanup(func() { st.Close() })
			_, err = st.db.ExecContext(ctx, "TRUNCATE users, attendance, journals, permissions, settings, notifications")
			require.NoError(t, err)
			return st
		},
	}
}

func forEachBackend(t *testing.T, notificationCap int, fn func(t *testing.T, st Store)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t, notificationCap))
		})
	}
}

func TestUsers(t *testing.T) {
	forEachBackend(t, 0, func(t *testing.T, st Store) {
		ctx := context.Background()

		u, err := st.CreateUser(ctx, model.User{Name: "Siti", Role: model.RoleTeacher, NIP: "1990", PasswordHash: "hash"})
		require.NoError(t, err)
		assert.NotEmpty(t, u.ID)

		_, err = st.CreateUser(ctx, model.User{Name: "Other", Role: model.RoleStaff, NIP: "1990", PasswordHash: "x"})
		assert.ErrorIs(t, err, ErrDuplicateNIP)

		got, err := st.GetUserByNIP(ctx, "1990")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, "hash", got.PasswordHash)

		all, err := st.ListUsers(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		require.NoError(t, st.DeleteUser(ctx, u.ID))
		assert.ErrorIs(t, st.DeleteUser(ctx, u.ID), ErrNotFound)
		_, err = st.GetUser(ctx, u.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAttendanceOncePerDirectionPerDay(t *testing.T) {
	forEachBackend(t, 0, func(t *testing.T, st Store) {
		ctx := context.Background()
		rec := model.AttendanceRecord{
			UserID: "u1", UserName: "Siti", Timestamp: time.Date(2024, 5, 1, 0, 30, 0, 0, time.UTC),
			Day: "2024-05-01", Type: model.DirectionIn, Photo: "data:image/jpeg;base64,AAAA",
			Location: model.Location{Lat: -6.1754, Lng: 106.8272, Address: "Sekolah"},
		}
		first, err := st.CreateAttendance(ctx, rec)
		require.NoError(t, err)

		_, err = st.CreateAttendance(ctx, rec)
		assert.ErrorIs(t, err, ErrAlreadyRecorded)

		out := rec
		out.Type = model.DirectionOut
		_, err = st.CreateAttendance(ctx, out)
		require.NoError(t, err)

		nextDay := rec
		nextDay.Day = "2024-05-02"
		_, err = st.CreateAttendance(ctx, nextDay)
		require.NoError(t, err)

		today, err := st.ListAttendance(ctx, AttendanceFilter{UserID: "u1", Day: "2024-05-01"})
		require.NoError(t, err)
		assert.Len(t, today, 2)

		got, err := st.GetAttendance(ctx, first.ID)
		require.NoError(t, err)
		assert.True(t, rec.Timestamp.Equal(got.Timestamp))
		assert.Equal(t, rec.Location, got.Location)

		require.NoError(t, st.UpdateAttendancePhoto(ctx, first.ID, "https://cdn/x.jpg"))
		got, err = st.GetAttendance(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "https://cdn/x.jpg", got.Photo)
		assert.ErrorIs(t, st.UpdateAttendancePhoto(ctx, "missing", "x"), ErrNotFound)
	})
}

func TestEmptyListsAreNotNil(t *testing.T) {
	forEachBackend(t, 0, func(t *testing.T, st Store) {
		ctx := context.Background()
		users, err := st.ListUsers(ctx)
		require.NoError(t, err)
		assert.NotNil(t, users)
		recs, err := st.ListAttendance(ctx, AttendanceFilter{UserID: "nobody"})
		require.NoError(t, err)
		assert.NotNil(t, recs)
		journals, err := st.ListJournals(ctx, "nobody")
		require.NoError(t, err)
		assert.NotNil(t, journals)
		perms, err := st.ListPermissions(ctx, PermissionFilter{UserID: "nobody"})
		require.NoError(t, err)
		assert.NotNil(t, perms)
		notes, err := st.ListNotifications(ctx, "nobody")
		require.NoError(t, err)
		assert.NotNil(t, notes)
	})
}

func TestOrphanRecordsSurviveUserDeletion(t *testing.T) {
	forEachBackend(t, 0, func(t *testing.T, st Store) {
		ctx := context.Background()
		u, err := st.CreateUser(ctx, model.User{Name: "Andi", Role: model.RoleStaff, NIP: "1988", PasswordHash: "h"})
		require.NoError(t, err)
		_, err = st.CreateAttendance(ctx, model.AttendanceRecord{UserID: u.ID, Day: "2024-05-01", Type: model.DirectionIn})
		require.NoError(t, err)
		_, err = st.CreateJournal(ctx, model.JournalEntry{UserID: u.ID, Subject: "Math"})
		require.NoError(t, err)

		require.NoError(t, st.DeleteUser(ctx, u.ID))

		recs, err := st.ListAttendance(ctx, AttendanceFilter{UserID: u.ID})
		require.NoError(t, err)
		assert.Len(t, recs, 1)
		journals, err := st.ListJournals(ctx, u.ID)
		require.NoError(t, err)
		assert.Len(t, journals, 1)
	})
}

func TestJournals(t *testing.T) {
	forEachBackend(t, 0, func(t *testing.T, st Store) {
		ctx := context.Background()
		withLoc, err := st.CreateJournal(ctx, model.JournalEntry{
			UserID: "u1", Date: "2024-05-01", Subject: "Fisika", ClassName: "XI IPA 1",
			Material: "Gerak", Location: &model.Location{Lat: 1, Lng: 2, Address: "Lab"},
		})
		require.NoError(t, err)
		_, err = st.CreateJournal(ctx, model.JournalEntry{UserID: "u2", Subject: "Kimia"})
		require.NoError(t, err)

		got, err := st.GetJournal(ctx, withLoc.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Location)
		assert.Equal(t, "Lab", got.Location.Address)

		mine, err := st.ListJournals(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, mine, 1)
		all, err := st.ListJournals(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		require.NoError(t, st.DeleteJournal(ctx, withLoc.ID))
		assert.ErrorIs(t, st.DeleteJournal(ctx, withLoc.ID), ErrNotFound)
	})
}

func TestPermissions(t *testing.T) {
	forEachBackend(t, 0, func(t *testing.T, st Store) {
		ctx := context.Background()
		p, err := st.CreatePermission(ctx, model.PermissionRequest{
			UserID: "u1", UserName: "Siti", Type: model.PermissionSick,
			DateStart: "2024-05-01", DateEnd: "2024-05-02", Reason: "Demam",
			Status: model.PermissionApproved,
		})
		require.NoError(t, err)
		assert.Equal(t, model.PermissionPending, p.Status)

		pending, err := st.ListPermissions(ctx, PermissionFilter{Status: model.PermissionPending})
		require.NoError(t, err)
		assert.Len(t, pending, 1)

		updated, err := st.UpdatePermissionStatus(ctx, p.ID, model.PermissionApproved)
		require.NoError(t, err)
		assert.Equal(t, model.PermissionApproved, updated.Status)
		assert.Equal(t, "Demam", updated.Reason)

		// Resolved requests can still be changed.
		updated, err = st.UpdatePermissionStatus(ctx, p.ID, model.PermissionRejected)
		require.NoError(t, err)
		assert.Equal(t, model.PermissionRejected, updated.Status)

		_, err = st.UpdatePermissionStatus(ctx, "missing", model.PermissionApproved)
		assert.ErrorIs(t, err, ErrNotFound)

		mine, err := st.ListPermissions(ctx, PermissionFilter{UserID: "u1"})
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, model.PermissionRejected, mine[0].Status)
	})
}

func TestSettingsVersioning(t *testing.T) {
	forEachBackend(t, 0, func(t *testing.T, st Store) {
		ctx := context.Background()
		s, err := st.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.DefaultSettings(), s)

		next := s
		next.SchoolLocation.Radius = 250
		next.AttendanceHours.EndIn = "07:30"
		saved, err := st.ReplaceSettings(ctx, next)
		require.NoError(t, err)
		assert.Equal(t, int64(2), saved.Version)

		saved, err = st.ReplaceSettings(ctx, next)
		require.NoError(t, err)
		assert.Equal(t, int64(3), saved.Version)

		got, err := st.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, 250.0, got.SchoolLocation.Radius)
		assert.Equal(t, "07:30", got.AttendanceHours.EndIn)
		assert.Equal(t, int64(3), got.Version)
	})
}

func TestNotificationsCapIsGlobalFIFO(t *testing.T) {
	const limit = 5
	forEachBackend(t, limit, func(t *testing.T, st Store) {
		ctx := context.Background()
		first, err := st.CreateNotification(ctx, model.Notification{UserID: "a", Title: "first", Type: model.NotificationInfo})
		require.NoError(t, err)
		for i := 0; i < limit; i++ {
			_, err := st.CreateNotification(ctx, model.Notification{UserID: "b", Title: "spam", Type: model.NotificationInfo})
			require.NoError(t, err)
		}

		n, err := st.CountNotifications(ctx)
		require.NoError(t, err)
		assert.Equal(t, limit, n)

		// The oldest entry is evicted even though it belongs to another user.
		feedA, err := st.ListNotifications(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, feedA)
		for _, item := range feedA {
			assert.NotEqual(t, first.ID, item.ID)
		}

		feedB, err := st.ListNotifications(ctx, "b")
		require.NoError(t, err)
		assert.Len(t, feedB, limit)
	})
}

func TestNotificationsNewestFirstAndMarkRead(t *testing.T) {
	forEachBackend(t, 0, func(t *testing.T, st Store) {
		ctx := context.Background()
		_, err := st.CreateNotification(ctx, model.Notification{UserID: "a", Title: "one", Type: model.NotificationInfo, IsRead: true})
		require.NoError(t, err)
		_, err = st.CreateNotification(ctx, model.Notification{UserID: "a", Title: "two", Type: model.NotificationSuccess})
		require.NoError(t, err)
		_, err = st.CreateNotification(ctx, model.Notification{UserID: "b", Title: "other", Type: model.NotificationWarning})
		require.NoError(t, err)

		feed, err := st.ListNotifications(ctx, "a")
		require.NoError(t, err)
		require.Len(t, feed, 2)
		assert.Equal(t, "two", feed[0].Title)
		assert.False(t, feed[0].IsRead)
		assert.False(t, feed[1].IsRead)

		changed, err := st.MarkAllNotificationsRead(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 2, changed)

		feed, err = st.ListNotifications(ctx, "a")
		require.NoError(t, err)
		for _, n := range feed {
			assert.True(t, n.IsRead)
		}
		other, err := st.ListNotifications(ctx, "b")
		require.NoError(t, err)
		assert.False(t, other[0].IsRead)
	})
}

func TestSeedUsersOnlyWhenEmpty(t *testing.T) {
	forEachBackend(t, 0, func(t *testing.T, st Store) {
		ctx := context.Background()
		seed := []model.User{
			{Name: "Administrator", Role: model.RoleAdmin, NIP: "admin", PasswordHash: "h"},
			{Name: "Siti", Role: model.RoleTeacher, NIP: "1990", PasswordHash: "h"},
		}
		n, err := SeedUsers(ctx, st, seed)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = SeedUsers(ctx, st, seed)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	ctx := context.Background()

	st, err := NewFile(path, 0, quietLogger())
	require.NoError(t, err)
	u, err := st.CreateUser(ctx, model.User{Name: "Budi", Role: model.RoleAdmin, NIP: "1985", PasswordHash: "bcrypt-hash"})
	require.NoError(t, err)
	_, err = st.ReplaceSettings(ctx, model.DefaultSettings())
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"password": "bcrypt-hash"`)

	reopened, err := NewFile(path, 0, quietLogger())
	require.NoError(t, err)
	got, err := reopened.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "bcrypt-hash", got.PasswordHash)
	s, err := reopened.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Version)
}

func TestFileStoreRejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := NewFile(path, 0, quietLogger())
	assert.Error(t, err)
}
