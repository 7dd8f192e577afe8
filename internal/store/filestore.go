package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"schoolattendance/internal/model"
)

// fileUser keeps the password hash in the document, which model.User hides from JSON.
type fileUser struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Role     model.Role `json:"role"`
	NIP      string     `json:"nip"`
	Password string     `json:"password"`
	Avatar   string     `json:"avatar,omitempty"`
}

type document struct {
	Users         []fileUser                `json:"users"`
	Attendance    []model.AttendanceRecord  `json:"attendance"`
	Journals      []model.JournalEntry      `json:"journals"`
	Permissions   []model.PermissionRequest `json:"permissions"`
	Settings      model.Settings            `json:"settings"`
	Notifications []model.Notification      `json:"notifications"` // newest first
}

func emptyDocument() document {
	return document{
		Users:         []fileUser{},
		Attendance:    []model.AttendanceRecord{},
		Journals:      []model.JournalEntry{},
		Permissions:   []model.PermissionRequest{},
		Settings:      model.DefaultSettings(),
		Notifications: []model.Notification{},
	}
}

// File keeps every collection in one JSON document. All mutations are
// serialized and the document is rewritten atomically (temp file + rename).
type File struct {
	mu              sync.RWMutex
	path            string
	doc             document
	notificationCap int
	logger          logrus.FieldLogger
}

// NewFile loads path, creating it with defaults when missing.
func NewFile(path string, notificationCap int, log logrus.FieldLogger) (*File, error) {
	if notificationCap <= 0 {
		notificationCap = DefaultNotificationCap
	}
	f := &File{path: path, notificationCap: notificationCap, logger: log}

	doc, err := readDocument(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		f.doc = emptyDocument()
		if err := f.flush(); err != nil {
			return nil, err
		}
		log.WithField("path", path).Info("created data file")
	case err != nil:
		return nil, err
	default:
		f.doc = doc
		log.WithField("path", path).Info("loaded data file")
	}
	return f, nil
}

func readDocument(path string) (document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return document{}, err
	}
	doc := emptyDocument()
	if err := json.Unmarshal(raw, &doc); err != nil {
		return document{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if doc.Settings.Version == 0 {
		doc.Settings.Version = 1
	}
	return doc, nil
}

func (f *File) flush() error {
	raw, err := json.MarshalIndent(f.doc, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".db-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace data file: %w", err)
	}
	return nil
}

// mutate applies fn under the write lock and persists the result. When the
// write fails the in-memory document is restored from disk.
func (f *File) mutate(fn func(doc *document) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := fn(&f.doc); err != nil {
		return err
	}
	if err := f.flush(); err != nil {
		f.logger.WithError(err).Error("data file write failed; reloading")
		if doc, rerr := readDocument(f.path); rerr == nil {
			f.doc = doc
		}
		return err
	}
	return nil
}

func (f *File) Ping(ctx context.Context) error {
	_, err := os.Stat(f.path)
	return err
}

func (f *File) Close() error { return nil }

// -------- Users --------

func (u fileUser) model() model.User {
	return model.User{ID: u.ID, Name: u.Name, Role: u.Role, NIP: u.NIP, PasswordHash: u.Password, Avatar: u.Avatar}
}

func (f *File) ListUsers(ctx context.Context) ([]model.User, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	res := make([]model.User, 0, len(f.doc.Users))
	for _, u := range f.doc.Users {
		res = append(res, u.model())
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (f *File) GetUser(ctx context.Context, id string) (model.User, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, u := range f.doc.Users {
		if u.ID == id {
			return u.model(), nil
		}
	}
	return model.User{}, ErrNotFound
}

func (f *File) GetUserByNIP(ctx context.Context, nip string) (model.User, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, u := range f.doc.Users {
		if u.NIP == nip {
			return u.model(), nil
		}
	}
	return model.User{}, ErrNotFound
}

func (f *File) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	u.ID = newID()
	err := f.mutate(func(doc *document) error {
		for _, existing := range doc.Users {
			if existing.NIP == u.NIP {
				return ErrDuplicateNIP
			}
		}
		doc.Users = append(doc.Users, fileUser{ID: u.ID, Name: u.Name, Role: u.Role, NIP: u.NIP, Password: u.PasswordHash, Avatar: u.Avatar})
		return nil
	})
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (f *File) DeleteUser(ctx context.Context, id string) error {
	return f.mutate(func(doc *document) error {
		for i, u := range doc.Users {
			if u.ID == id {
				doc.Users = append(doc.Users[:i], doc.Users[i+1:]...)
				return nil
			}
		}
		return ErrNotFound
	})
}

// -------- Attendance --------

func (f *File) ListAttendance(ctx context.Context, flt AttendanceFilter) ([]model.AttendanceRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	res := make([]model.AttendanceRecord, 0)
	for _, r := range f.doc.Attendance {
		if flt.UserID != "" && r.UserID != flt.UserID {
			continue
		}
		if flt.Day != "" && r.Day != flt.Day {
			continue
		}
		res = append(res, r)
	}
	return res, nil
}

func (f *File) GetAttendance(ctx context.Context, id string) (model.AttendanceRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, r := range f.doc.Attendance {
		if r.ID == id {
			return r, nil
		}
	}
	return model.AttendanceRecord{}, ErrNotFound
}

func (f *File) CreateAttendance(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	rec.ID = newID()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	err := f.mutate(func(doc *document) error {
		for _, r := range doc.Attendance {
			if r.UserID == rec.UserID && r.Day == rec.Day && r.Type == rec.Type {
				return ErrAlreadyRecorded
			}
		}
		doc.Attendance = append(doc.Attendance, rec)
		return nil
	})
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	return rec, nil
}

func (f *File) UpdateAttendancePhoto(ctx context.Context, id, photo string) error {
	return f.mutate(func(doc *document) error {
		for i := range doc.Attendance {
			if doc.Attendance[i].ID == id {
				doc.Attendance[i].Photo = photo
				return nil
			}
		}
		return ErrNotFound
	})
}

// -------- Journals --------

func (f *File) ListJournals(ctx context.Context, userID string) ([]model.JournalEntry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	res := make([]model.JournalEntry, 0)
	for _, j := range f.doc.Journals {
		if userID == "" || j.UserID == userID {
			res = append(res, j)
		}
	}
	return res, nil
}

func (f *File) GetJournal(ctx context.Context, id string) (model.JournalEntry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, j := range f.doc.Journals {
		if j.ID == id {
			return j, nil
		}
	}
	return model.JournalEntry{}, ErrNotFound
}

func (f *File) CreateJournal(ctx context.Context, e model.JournalEntry) (model.JournalEntry, error) {
	e.ID = newID()
	err := f.mutate(func(doc *document) error {
		doc.Journals = append(doc.Journals, e)
		return nil
	})
	if err != nil {
		return model.JournalEntry{}, err
	}
	return e, nil
}

func (f *File) DeleteJournal(ctx context.Context, id string) error {
	return f.mutate(func(doc *document) error {
		for i, j := range doc.Journals {
			if j.ID == id {
				doc.Journals = append(doc.Journals[:i], doc.Journals[i+1:]...)
				return nil
			}
		}
		return ErrNotFound
	})
}

// -------- Permissions --------

func (f *File) ListPermissions(ctx context.Context, flt PermissionFilter) ([]model.PermissionRequest, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	res := make([]model.PermissionRequest, 0)
	for _, p := range f.doc.Permissions {
		if flt.UserID != "" && p.UserID != flt.UserID {
			continue
		}
		if flt.Status != "" && p.Status != flt.Status {
			continue
		}
		res = append(res, p)
	}
	return res, nil
}

func (f *File) GetPermission(ctx context.Context, id string) (model.PermissionRequest, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.doc.Permissions {
		if p.ID == id {
			return p, nil
		}
	}
	return model.PermissionRequest{}, ErrNotFound
}

func (f *File) CreatePermission(ctx context.Context, p model.PermissionRequest) (model.PermissionRequest, error) {
	p.ID = newID()
	p.Status = model.PermissionPending
	err := f.mutate(func(doc *document) error {
		doc.Permissions = append(doc.Permissions, p)
		return nil
	})
	if err != nil {
		return model.PermissionRequest{}, err
	}
	return p, nil
}

func (f *File) UpdatePermissionStatus(ctx context.Context, id string, status model.PermissionStatus) (model.PermissionRequest, error) {
	var out model.PermissionRequest
	err := f.mutate(func(doc *document) error {
		for i := range doc.Permissions {
			if doc.Permissions[i].ID == id {
				doc.Permissions[i].Status = status
				out = doc.Permissions[i]
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

// -------- Settings --------

func (f *File) GetSettings(ctx context.Context) (model.Settings, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.doc.Settings, nil
}

func (f *File) ReplaceSettings(ctx context.Context, s model.Settings) (model.Settings, error) {
	err := f.mutate(func(doc *document) error {
		s.Version = doc.Settings.Version + 1
		doc.Settings = s
		return nil
	})
	if err != nil {
		return model.Settings{}, err
	}
	return s, nil
}

// -------- Notifications --------

func (f *File) ListNotifications(ctx context.Context, userID string) ([]model.Notification, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	res := make([]model.Notification, 0)
	for _, n := range f.doc.Notifications {
		if n.UserID == userID {
			res = append(res, n)
		}
	}
	return res, nil
}

func (f *File) CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	n.ID = newID()
	n.Timestamp = time.Now().UTC()
	n.IsRead = false
	err := f.mutate(func(doc *document) error {
		doc.Notifications = append([]model.Notification{n}, doc.Notifications...)
		if len(doc.Notifications) > f.notificationCap {
			doc.Notifications = doc.Notifications[:f.notificationCap]
		}
		return nil
	})
	if err != nil {
		return model.Notification{}, err
	}
	return n, nil
}

func (f *File) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	changed := 0
	err := f.mutate(func(doc *document) error {
		for i := range doc.Notifications {
			if doc.Notifications[i].UserID == userID && !doc.Notifications[i].IsRead {
				doc.Notifications[i].IsRead = true
				changed++
			}
		}
		return nil
	})
	return changed, err
}

func (f *File) CountNotifications(ctx context.Context) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.doc.Notifications), nil
}
