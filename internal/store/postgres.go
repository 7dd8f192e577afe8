package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"schoolattendance/internal/model"
)

const uniqueViolation = "23505"

// Postgres persists every collection in PostgreSQL through database/sql and pgx.
type Postgres struct {
	db              *sql.DB
	notificationCap int
}

// NewPostgres connects, migrates the schema and returns the store.
func NewPostgres(ctx context.Context, connString string, notificationCap int) (*Postgres, error) {
	db, err := openPostgres(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := migratePostgres(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if notificationCap <= 0 {
		notificationCap = DefaultNotificationCap
	}
	return &Postgres{db: db, notificationCap: notificationCap}, nil
}

func migratePostgres(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		role          TEXT NOT NULL,
		nip           TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		avatar        TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS attendance (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		user_name   TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL,
		day         TEXT NOT NULL,
		type        TEXT NOT NULL,
		photo       TEXT NOT NULL DEFAULT '',
		lat         DOUBLE PRECISION NOT NULL,
		lng         DOUBLE PRECISION NOT NULL,
		address     TEXT NOT NULL DEFAULT '',
		UNIQUE (user_id, day, type)
	);
	CREATE INDEX IF NOT EXISTS idx_attendance_time ON attendance(occurred_at);

	CREATE TABLE IF NOT EXISTS journals (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		date        TEXT NOT NULL,
		subject     TEXT NOT NULL,
		class_name  TEXT NOT NULL,
		material    TEXT NOT NULL DEFAULT '',
		notes       TEXT NOT NULL DEFAULT '',
		photo       TEXT NOT NULL DEFAULT '',
		lat         DOUBLE PRECISION,
		lng         DOUBLE PRECISION,
		address     TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_journals_user ON journals(user_id);

	CREATE TABLE IF NOT EXISTS permissions (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		user_name   TEXT NOT NULL DEFAULT '',
		type        TEXT NOT NULL,
		date_start  TEXT NOT NULL,
		date_end    TEXT NOT NULL,
		reason      TEXT NOT NULL,
		status      TEXT NOT NULL,
		attachment  TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS settings (
		id        SMALLINT PRIMARY KEY CHECK (id = 1),
		lat       DOUBLE PRECISION NOT NULL,
		lng       DOUBLE PRECISION NOT NULL,
		radius    DOUBLE PRECISION NOT NULL,
		address   TEXT NOT NULL,
		start_in  TEXT NOT NULL,
		end_in    TEXT NOT NULL,
		start_out TEXT NOT NULL,
		end_out   TEXT NOT NULL,
		version   BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		seq         BIGSERIAL PRIMARY KEY,
		id          TEXT NOT NULL UNIQUE,
		user_id     TEXT NOT NULL,
		title       TEXT NOT NULL,
		message     TEXT NOT NULL,
		type        TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		is_read     BOOLEAN NOT NULL DEFAULT FALSE
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Ping checks the connection.
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Close closes the pool.
func (p *Postgres) Close() error { return p.db.Close() }

// -------- Users --------

const userColumns = `id, name, role, nip, password_hash, avatar`

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var u model.User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &role, &u.NIP, &u.PasswordHash, &u.Avatar); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, err
	}
	u.Role = model.Role(role)
	return u, nil
}

func (p *Postgres) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *Postgres) GetUser(ctx context.Context, id string) (model.User, error) {
	return scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (p *Postgres) GetUserByNIP(ctx context.Context, nip string) (model.User, error) {
	return scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE nip = $1`, nip))
}

func (p *Postgres) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	u.ID = newID()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users (id, name, role, nip, password_hash, avatar) VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Name, string(u.Role), u.NIP, u.PasswordHash, u.Avatar,
	)
	if isUniqueViolation(err) {
		return model.User{}, ErrDuplicateNIP
	}
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (p *Postgres) DeleteUser(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// -------- Attendance --------

const attendanceColumns = `id, user_id, user_name, occurred_at, day, type, photo, lat, lng, address`

func scanAttendance(row interface{ Scan(...any) error }) (model.AttendanceRecord, error) {
	var r model.AttendanceRecord
	var typ string
	if err := row.Scan(&r.ID, &r.UserID, &r.UserName, &r.Timestamp, &r.Day, &typ, &r.Photo,
		&r.Location.Lat, &r.Location.Lng, &r.Location.Address); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AttendanceRecord{}, ErrNotFound
		}
		return model.AttendanceRecord{}, err
	}
	r.Type = model.Direction(typ)
	return r, nil
}

func (p *Postgres) ListAttendance(ctx context.Context, f AttendanceFilter) ([]model.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance WHERE 1=1`
	args := []any{}
	if f.UserID != "" {
		args = append(args, f.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if f.Day != "" {
		args = append(args, f.Day)
		query += fmt.Sprintf(" AND day = $%d", len(args))
	}
	query += " ORDER BY occurred_at"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]model.AttendanceRecord, 0)
	for rows.Next() {
		r, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (p *Postgres) GetAttendance(ctx context.Context, id string) (model.AttendanceRecord, error) {
	return scanAttendance(p.db.QueryRowContext(ctx, `SELECT `+attendanceColumns+` FROM attendance WHERE id = $1`, id))
}

func (p *Postgres) CreateAttendance(ctx context.Context, r model.AttendanceRecord) (model.AttendanceRecord, error) {
	r.ID = newID()
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attendance (id, user_id, user_name, occurred_at, day, type, photo, lat, lng, address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.ID, r.UserID, r.UserName, r.Timestamp, r.Day, string(r.Type), r.Photo,
		r.Location.Lat, r.Location.Lng, r.Location.Address)
	if isUniqueViolation(err) {
		return model.AttendanceRecord{}, ErrAlreadyRecorded
	}
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	return r, nil
}

func (p *Postgres) UpdateAttendancePhoto(ctx context.Context, id, photo string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE attendance SET photo = $2 WHERE id = $1`, id, photo)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// -------- Journals --------

const journalColumns = `id, user_id, date, subject, class_name, material, notes, photo, lat, lng, address`

func scanJournal(row interface{ Scan(...any) error }) (model.JournalEntry, error) {
	var e model.JournalEntry
	var lat, lng sql.NullFloat64
	var addr sql.NullString
	if err := row.Scan(&e.ID, &e.UserID, &e.Date, &e.Subject, &e.ClassName, &e.Material, &e.Notes, &e.Photo,
		&lat, &lng, &addr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.JournalEntry{}, ErrNotFound
		}
		return model.JournalEntry{}, err
	}
	if lat.Valid && lng.Valid {
		e.Location = &model.Location{Lat: lat.Float64, Lng: lng.Float64, Address: addr.String}
	}
	return e, nil
}

func (p *Postgres) ListJournals(ctx context.Context, userID string) ([]model.JournalEntry, error) {
	query := `SELECT ` + journalColumns + ` FROM journals`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = $1`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]model.JournalEntry, 0)
	for rows.Next() {
		e, err := scanJournal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (p *Postgres) GetJournal(ctx context.Context, id string) (model.JournalEntry, error) {
	return scanJournal(p.db.QueryRowContext(ctx, `SELECT `+journalColumns+` FROM journals WHERE id = $1`, id))
}

func (p *Postgres) CreateJournal(ctx context.Context, e model.JournalEntry) (model.JournalEntry, error) {
	e.ID = newID()
	var lat, lng sql.NullFloat64
	var addr sql.NullString
	if e.Location != nil {
		lat = sql.NullFloat64{Float64: e.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: e.Location.Lng, Valid: true}
		addr = sql.NullString{String: e.Location.Address, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO journals (id, user_id, date, subject, class_name, material, notes, photo, lat, lng, address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, e.UserID, e.Date, e.Subject, e.ClassName, e.Material, e.Notes, e.Photo, lat, lng, addr)
	if err != nil {
		return model.JournalEntry{}, err
	}
	return e, nil
}

func (p *Postgres) DeleteJournal(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM journals WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// -------- Permissions --------

const permissionColumns = `id, user_id, user_name, type, date_start, date_end, reason, status, attachment`

func scanPermission(row interface{ Scan(...any) error }) (model.PermissionRequest, error) {
	var r model.PermissionRequest
	var typ, status string
	if err := row.Scan(&r.ID, &r.UserID, &r.UserName, &typ, &r.DateStart, &r.DateEnd, &r.Reason, &status, &r.Attachment); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PermissionRequest{}, ErrNotFound
		}
		return model.PermissionRequest{}, err
	}
	r.Type = model.PermissionType(typ)
	r.Status = model.PermissionStatus(status)
	return r, nil
}

func (p *Postgres) ListPermissions(ctx context.Context, f PermissionFilter) ([]model.PermissionRequest, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE 1=1`
	args := []any{}
	if f.UserID != "" {
		args = append(args, f.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]model.PermissionRequest, 0)
	for rows.Next() {
		r, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (p *Postgres) GetPermission(ctx context.Context, id string) (model.PermissionRequest, error) {
	return scanPermission(p.db.QueryRowContext(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
}

func (p *Postgres) CreatePermission(ctx context.Context, r model.PermissionRequest) (model.PermissionRequest, error) {
	r.ID = newID()
	r.Status = model.PermissionPending
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO permissions (id, user_id, user_name, type, date_start, date_end, reason, status, attachment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.UserID, r.UserName, string(r.Type), r.DateStart, r.DateEnd, r.Reason, string(r.Status), r.Attachment)
	if err != nil {
		return model.PermissionRequest{}, err
	}
	return r, nil
}

func (p *Postgres) UpdatePermissionStatus(ctx context.Context, id string, status model.PermissionStatus) (model.PermissionRequest, error) {
	return scanPermission(p.db.QueryRowContext(ctx,
		`UPDATE permissions SET status = $2 WHERE id = $1 RETURNING `+permissionColumns, id, string(status)))
}

// -------- Settings --------

func (p *Postgres) GetSettings(ctx context.Context) (model.Settings, error) {
	var s model.Settings
	err := p.db.QueryRowContext(ctx, `
		SELECT lat, lng, radius, address, start_in, end_in, start_out, end_out, version
		FROM settings WHERE id = 1
	`).Scan(&s.SchoolLocation.Lat, &s.SchoolLocation.Lng, &s.SchoolLocation.Radius, &s.SchoolLocation.Address,
		&s.AttendanceHours.StartIn, &s.AttendanceHours.EndIn, &s.AttendanceHours.StartOut, &s.AttendanceHours.EndOut,
		&s.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultSettings(), nil
	}
	return s, err
}

func (p *Postgres) ReplaceSettings(ctx context.Context, s model.Settings) (model.Settings, error) {
	loc, hours := s.SchoolLocation, s.AttendanceHours
	// First write lands on version 2 so it differs from the implicit defaults.
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO settings (id, lat, lng, radius, address, start_in, end_in, start_out, end_out, version)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, 2)
		ON CONFLICT (id) DO UPDATE SET
			lat = EXCLUDED.lat, lng = EXCLUDED.lng, radius = EXCLUDED.radius, address = EXCLUDED.address,
			start_in = EXCLUDED.start_in, end_in = EXCLUDED.end_in,
			start_out = EXCLUDED.start_out, end_out = EXCLUDED.end_out,
			version = settings.version + 1
		RETURNING version
	`, loc.Lat, loc.Lng, loc.Radius, loc.Address, hours.StartIn, hours.EndIn, hours.StartOut, hours.EndOut).Scan(&s.Version)
	if err != nil {
		return model.Settings{}, err
	}
	return s, nil
}

// -------- Notifications --------

func (p *Postgres) ListNotifications(ctx context.Context, userID string) ([]model.Notification, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, title, message, type, occurred_at, is_read
		FROM notifications WHERE user_id = $1 ORDER BY seq DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]model.Notification, 0)
	for rows.Next() {
		var n model.Notification
		var typ string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &typ, &n.Timestamp, &n.IsRead); err != nil {
			return nil, err
		}
		n.Type = model.NotificationType(typ)
		res = append(res, n)
	}
	return res, rows.Err()
}

func (p *Postgres) CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	n.ID = newID()
	n.Timestamp = time.Now().UTC()
	n.IsRead = false

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Notification{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, title, message, type, occurred_at, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
	`, n.ID, n.UserID, n.Title, n.Message, string(n.Type), n.Timestamp); err != nil {
		return model.Notification{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM notifications WHERE seq IN (
			SELECT seq FROM notifications ORDER BY seq DESC OFFSET $1
		)
	`, p.notificationCap); err != nil {
		return model.Notification{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Notification{}, err
	}
	return n, nil
}

func (p *Postgres) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (p *Postgres) CountNotifications(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications`).Scan(&n)
	return n, err
}
