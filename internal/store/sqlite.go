package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"schoolattendance/internal/model"
)

type userRow struct {
	ID           string `gorm:"primaryKey"`
	Name         string `gorm:"not null"`
	Role         string `gorm:"not null"`
	NIP          string `gorm:"column:nip;not null;uniqueIndex"`
	PasswordHash string `gorm:"not null"`
	Avatar       string
}

func (userRow) TableName() string { return "users" }

type attendanceRow struct {
	ID         string    `gorm:"primaryKey"`
	UserID     string    `gorm:"not null;uniqueIndex:idx_attendance_once"`
	UserName   string
	OccurredAt time.Time `gorm:"not null;index"`
	Day        string    `gorm:"not null;uniqueIndex:idx_attendance_once"`
	Type       string    `gorm:"not null;uniqueIndex:idx_attendance_once"`
	Photo      string
	Lat        float64
	Lng        float64
	Address    string
}

func (attendanceRow) TableName() string { return "attendance" }

type journalRow struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index"`
	Date      string
	Subject   string
	ClassName string
	Material  string
	Notes     string
	Photo     string
	Lat       *float64
	Lng       *float64
	Address   *string
	CreatedAt time.Time
}

func (journalRow) TableName() string { return "journals" }

type permissionRow struct {
	ID         string `gorm:"primaryKey"`
	UserID     string `gorm:"not null;index"`
	UserName   string
	Type       string
	DateStart  string
	DateEnd    string
	Reason     string
	Status     string `gorm:"index"`
	Attachment string
	CreatedAt  time.Time
}

func (permissionRow) TableName() string { return "permissions" }

type settingsRow struct {
	ID       uint `gorm:"primaryKey"`
	Lat      float64
	Lng      float64
	Radius   float64
	Address  string
	StartIn  string
	EndIn    string
	StartOut string
	EndOut   string
	Version  int64
}

func (settingsRow) TableName() string { return "settings" }

type notificationRow struct {
	Seq        int64  `gorm:"primaryKey;autoIncrement"`
	ID         string `gorm:"not null;uniqueIndex"`
	UserID     string `gorm:"not null;index"`
	Title      string
	Message    string
	Type       string
	OccurredAt time.Time
	IsRead     bool
}

func (notificationRow) TableName() string { return "notifications" }

// SQLite persists every collection in an SQLite file through gorm.
type SQLite struct {
	db              *gorm.DB
	notificationCap int
	logger          logrus.FieldLogger
}

// NewSQLite opens (creating if needed) the database at path and migrates it.
// Use ":memory:" or "file::memory:?cache=shared" for throwaway databases.
func NewSQLite(path string, notificationCap int, log logrus.FieldLogger) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent requests.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&userRow{}, &attendanceRow{}, &journalRow{}, &permissionRow{}, &settingsRow{}, &notificationRow{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	if notificationCap <= 0 {
		notificationCap = DefaultNotificationCap
	}
	log.WithField("path", path).Info("sqlite store initialized")
	return &SQLite{db: db, notificationCap: notificationCap, logger: log}, nil
}

// Ping checks the underlying connection.
func (s *SQLite) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// -------- Users --------

func (r userRow) model() model.User {
	return model.User{ID: r.ID, Name: r.Name, Role: model.Role(r.Role), NIP: r.NIP, PasswordHash: r.PasswordHash, Avatar: r.Avatar}
}

func (s *SQLite) ListUsers(ctx context.Context) ([]model.User, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	users := make([]model.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.model())
	}
	return users, nil
}

func (s *SQLite) GetUser(ctx context.Context, id string) (model.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return model.User{}, notFound(err)
	}
	return row.model(), nil
}

func (s *SQLite) GetUserByNIP(ctx context.Context, nip string) (model.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).Where("nip = ?", nip).First(&row).Error; err != nil {
		return model.User{}, notFound(err)
	}
	return row.model(), nil
}

func (s *SQLite) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	u.ID = newID()
	row := userRow{ID: u.ID, Name: u.Name, Role: string(u.Role), NIP: u.NIP, PasswordHash: u.PasswordHash, Avatar: u.Avatar}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return model.User{}, ErrDuplicateNIP
		}
		return model.User{}, err
	}
	s.logger.WithFields(logrus.Fields{"user_id": u.ID, "nip": u.NIP}).Info("user created")
	return u, nil
}

func (s *SQLite) DeleteUser(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&userRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// -------- Attendance --------

func (r attendanceRow) model() model.AttendanceRecord {
	return model.AttendanceRecord{
		ID:        r.ID,
		UserID:    r.UserID,
		UserName:  r.UserName,
		Timestamp: r.OccurredAt,
		Day:       r.Day,
		Type:      model.Direction(r.Type),
		Photo:     r.Photo,
		Location:  model.Location{Lat: r.Lat, Lng: r.Lng, Address: r.Address},
	}
}

func (s *SQLite) ListAttendance(ctx context.Context, f AttendanceFilter) ([]model.AttendanceRecord, error) {
	q := s.db.WithContext(ctx).Model(&attendanceRow{})
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Day != "" {
		q = q.Where("day = ?", f.Day)
	}
	var rows []attendanceRow
	if err := q.Order("occurred_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]model.AttendanceRecord, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.model())
	}
	return res, nil
}

func (s *SQLite) GetAttendance(ctx context.Context, id string) (model.AttendanceRecord, error) {
	var row attendanceRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return model.AttendanceRecord{}, notFound(err)
	}
	return row.model(), nil
}

func (s *SQLite) CreateAttendance(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	rec.ID = newID()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	row := attendanceRow{
		ID:         rec.ID,
		UserID:     rec.UserID,
		UserName:   rec.UserName,
		OccurredAt: rec.Timestamp,
		Day:        rec.Day,
		Type:       string(rec.Type),
		Photo:      rec.Photo,
		Lat:        rec.Location.Lat,
		Lng:        rec.Location.Lng,
		Address:    rec.Location.Address,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return model.AttendanceRecord{}, ErrAlreadyRecorded
		}
		return model.AttendanceRecord{}, err
	}
	return rec, nil
}

func (s *SQLite) UpdateAttendancePhoto(ctx context.Context, id, photo string) error {
	res := s.db.WithContext(ctx).Model(&attendanceRow{}).Where("id = ?", id).Update("photo", photo)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// -------- Journals --------

func (r journalRow) model() model.JournalEntry {
	e := model.JournalEntry{
		ID: r.ID, UserID: r.UserID, Date: r.Date, Subject: r.Subject, ClassName: r.ClassName,
		Material: r.Material, Notes: r.Notes, Photo: r.Photo,
	}
	if r.Lat != nil && r.Lng != nil {
		e.Location = &model.Location{Lat: *r.Lat, Lng: *r.Lng}
		if r.Address != nil {
			e.Location.Address = *r.Address
		}
	}
	return e
}

func (s *SQLite) ListJournals(ctx context.Context, userID string) ([]model.JournalEntry, error) {
	q := s.db.WithContext(ctx).Model(&journalRow{})
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var rows []journalRow
	if err := q.Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]model.JournalEntry, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.model())
	}
	return res, nil
}

func (s *SQLite) GetJournal(ctx context.Context, id string) (model.JournalEntry, error) {
	var row journalRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return model.JournalEntry{}, notFound(err)
	}
	return row.model(), nil
}

func (s *SQLite) CreateJournal(ctx context.Context, e model.JournalEntry) (model.JournalEntry, error) {
	e.ID = newID()
	row := journalRow{
		ID: e.ID, UserID: e.UserID, Date: e.Date, Subject: e.Subject, ClassName: e.ClassName,
		Material: e.Material, Notes: e.Notes, Photo: e.Photo,
	}
	if e.Location != nil {
		lat, lng, addr := e.Location.Lat, e.Location.Lng, e.Location.Address
		row.Lat, row.Lng, row.Address = &lat, &lng, &addr
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return model.JournalEntry{}, err
	}
	return e, nil
}

func (s *SQLite) DeleteJournal(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&journalRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// -------- Permissions --------

func (r permissionRow) model() model.PermissionRequest {
	return model.PermissionRequest{
		ID: r.ID, UserID: r.UserID, UserName: r.UserName, Type: model.PermissionType(r.Type),
		DateStart: r.DateStart, DateEnd: r.DateEnd, Reason: r.Reason,
		Status: model.PermissionStatus(r.Status), Attachment: r.Attachment,
	}
}

func (s *SQLite) ListPermissions(ctx context.Context, f PermissionFilter) ([]model.PermissionRequest, error) {
	q := s.db.WithContext(ctx).Model(&permissionRow{})
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	var rows []permissionRow
	if err := q.Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]model.PermissionRequest, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.model())
	}
	return res, nil
}

func (s *SQLite) GetPermission(ctx context.Context, id string) (model.PermissionRequest, error) {
	var row permissionRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return model.PermissionRequest{}, notFound(err)
	}
	return row.model(), nil
}

func (s *SQLite) CreatePermission(ctx context.Context, p model.PermissionRequest) (model.PermissionRequest, error) {
	p.ID = newID()
	p.Status = model.PermissionPending
	row := permissionRow{
		ID: p.ID, UserID: p.UserID, UserName: p.UserName, Type: string(p.Type),
		DateStart: p.DateStart, DateEnd: p.DateEnd, Reason: p.Reason,
		Status: string(p.Status), Attachment: p.Attachment,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return model.PermissionRequest{}, err
	}
	return p, nil
}

func (s *SQLite) UpdatePermissionStatus(ctx context.Context, id string, status model.PermissionStatus) (model.PermissionRequest, error) {
	var out model.PermissionRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&permissionRow{}).Where("id = ?", id).Update("status", string(status))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		var row permissionRow
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			return err
		}
		out = row.model()
		return nil
	})
	if err != nil {
		return model.PermissionRequest{}, err
	}
	return out, nil
}

// -------- Settings --------

func (s *SQLite) GetSettings(ctx context.Context) (model.Settings, error) {
	var row settingsRow
	err := s.db.WithContext(ctx).Where("id = ?", 1).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.DefaultSettings(), nil
	}
	if err != nil {
		return model.Settings{}, err
	}
	return model.Settings{
		SchoolLocation:  model.SchoolLocation{Lat: row.Lat, Lng: row.Lng, Radius: row.Radius, Address: row.Address},
		AttendanceHours: model.AttendanceHours{StartIn: row.StartIn, EndIn: row.EndIn, StartOut: row.StartOut, EndOut: row.EndOut},
		Version:         row.Version,
	}, nil
}

func (s *SQLite) ReplaceSettings(ctx context.Context, in model.Settings) (model.Settings, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current settingsRow
		version := model.DefaultSettings().Version
		err := tx.Where("id = ?", 1).First(&current).Error
		switch {
		case err == nil:
			version = current.Version
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		in.Version = version + 1
		row := settingsRow{
			ID:  1,
			Lat: in.SchoolLocation.Lat, Lng: in.SchoolLocation.Lng, Radius: in.SchoolLocation.Radius,
			Address: in.SchoolLocation.Address,
			StartIn: in.AttendanceHours.StartIn, EndIn: in.AttendanceHours.EndIn,
			StartOut: in.AttendanceHours.StartOut, EndOut: in.AttendanceHours.EndOut,
			Version: in.Version,
		}
		return tx.Save(&row).Error
	})
	if err != nil {
		return model.Settings{}, err
	}
	return in, nil
}

// -------- Notifications --------

func (s *SQLite) ListNotifications(ctx context.Context, userID string) ([]model.Notification, error) {
	var rows []notificationRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("seq DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]model.Notification, 0, len(rows))
	for _, r := range rows {
		res = append(res, model.Notification{
			ID: r.ID, UserID: r.UserID, Title: r.Title, Message: r.Message,
			Type: model.NotificationType(r.Type), Timestamp: r.OccurredAt, IsRead: r.IsRead,
		})
	}
	return res, nil
}

func (s *SQLite) CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	n.ID = newID()
	n.Timestamp = time.Now().UTC()
	n.IsRead = false
	row := notificationRow{
		ID: n.ID, UserID: n.UserID, Title: n.Title, Message: n.Message,
		Type: string(n.Type), OccurredAt: n.Timestamp,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Exec(
			`DELETE FROM notifications WHERE seq IN (SELECT seq FROM notifications ORDER BY seq DESC LIMIT -1 OFFSET ?)`,
			s.notificationCap,
		).Error
	})
	if err != nil {
		return model.Notification{}, err
	}
	return n, nil
}

func (s *SQLite) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	res := s.db.WithContext(ctx).Model(&notificationRow{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	return int(res.RowsAffected), res.Error
}

func (s *SQLite) CountNotifications(ctx context.Context) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&notificationRow{}).Count(&n).Error
	return int(n), err
}
