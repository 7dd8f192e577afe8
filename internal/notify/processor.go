package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"schoolattendance/internal/cloudinary"
	"schoolattendance/internal/metrics"
	"schoolattendance/internal/model"
	"schoolattendance/internal/punctuality"
	"schoolattendance/internal/queue"
	"schoolattendance/internal/store"
)

// Uploader moves a selfie off the database. *cloudinary.Client implements it.
type Uploader interface {
	UploadDataURI(ctx context.Context, dataURI, publicID string) (*cloudinary.UploadResult, error)
}

// Processor handles attendance.recorded and permission.decided events.
type Processor struct {
	notes       *Service
	attendance  store.Attendance
	permissions store.Permissions
	settings    store.Settings
	uploader    Uploader
	loc         *time.Location
	metrics     *metrics.Metrics
	logger      logrus.FieldLogger
}

// NewProcessor builds a processor. uploader may be nil.
func NewProcessor(notes *Service, st store.Store, uploader Uploader, loc *time.Location, m *metrics.Metrics, log logrus.FieldLogger) *Processor {
	if loc == nil {
		loc = time.UTC
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Processor{
		notes:       notes,
		attendance:  st,
		permissions: st,
		settings:    st,
		uploader:    uploader,
		loc:         loc,
		metrics:     m,
		logger:      log,
	}
}

// Run consumes q until ctx is done.
func (p *Processor) Run(ctx context.Context, q queue.Queue) error {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	p.logger.Info("event processor started")
	for msg := range msgs {
		result := "ok"
		if err := p.Handle(ctx, msg); err != nil {
			result = "error"
			p.logger.WithError(err).WithField("type", msg.Type).Error("event handling failed")
		}
		p.metrics.QueueMessages.WithLabelValues(msg.Type, result).Inc()
	}
	p.logger.Info("event processor stopped")
	return ctx.Err()
}

// Handle dispatches one message. Unknown types are ignored.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) error {
	switch msg.Type {
	case queue.TypeAttendanceRecorded:
		var evt queue.AttendanceRecorded
		if err := msg.Decode(&evt); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		return p.attendanceRecorded(ctx, evt)
	case queue.TypePermissionDecided:
		var evt queue.PermissionDecided
		if err := msg.Decode(&evt); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		return p.permissionDecided(ctx, evt)
	default:
		p.logger.WithField("type", msg.Type).Debug("ignoring unknown event")
		return nil
	}
}

func (p *Processor) attendanceRecorded(ctx context.Context, evt queue.AttendanceRecorded) error {
	rec, err := p.attendance.GetAttendance(ctx, evt.RecordID)
	if err != nil {
		return fmt.Errorf("load record %s: %w", evt.RecordID, err)
	}
	settings, err := p.settings.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	label, err := punctuality.Record(rec, settings.AttendanceHours, p.loc)
	if err != nil {
		return fmt.Errorf("classify %s: %w", rec.ID, err)
	}
	p.metrics.Classifications.WithLabelValues(string(rec.Type), string(label)).Inc()

	if _, err := p.notes.Create(ctx, attendanceNotification(rec, label, settings.AttendanceHours, p.loc)); err != nil {
		return fmt.Errorf("notify %s: %w", rec.UserID, err)
	}
	p.logger.WithFields(logrus.Fields{"record_id": rec.ID, "label": label}).Info("attendance classified")

	p.offloadPhoto(ctx, rec)
	return nil
}

func attendanceNotification(rec model.AttendanceRecord, label punctuality.Label, hours model.AttendanceHours, loc *time.Location) model.Notification {
	at := rec.Timestamp.In(loc).Format("15:04")
	n := model.Notification{UserID: rec.UserID, Type: model.NotificationSuccess}
	switch {
	case rec.Type == model.DirectionIn && label == punctuality.OnTime:
		n.Title = "Check-in recorded"
		n.Message = fmt.Sprintf("You checked in at %s (%s).", at, label)
	case rec.Type == model.DirectionIn:
		n.Type = model.NotificationWarning
		n.Title = "Late check-in"
		n.Message = fmt.Sprintf("You checked in at %s, after the %s cutoff.", at, hours.EndIn)
	case label == punctuality.OnTime:
		n.Title = "Check-out recorded"
		n.Message = fmt.Sprintf("You checked out at %s (%s).", at, label)
	default:
		n.Type = model.NotificationWarning
		n.Title = "Early leave"
		n.Message = fmt.Sprintf("You checked out at %s, before %s.", at, hours.StartOut)
	}
	return n
}

func (p *Processor) offloadPhoto(ctx context.Context, rec model.AttendanceRecord) {
	if p.uploader == nil || !strings.HasPrefix(rec.Photo, "data:") {
		return
	}
	log := p.logger.WithField("record_id", rec.ID)
	res, err := p.uploader.UploadDataURI(ctx, rec.Photo, rec.ID)
	if err != nil {
		log.WithError(err).Warn("photo upload failed; keeping inline copy")
		return
	}
	if err := p.attendance.UpdateAttendancePhoto(ctx, rec.ID, res.SecureURL); err != nil {
		log.WithError(err).Warn("could not store photo url")
		return
	}
	log.WithField("url", res.SecureURL).Info("photo offloaded")
}

func (p *Processor) permissionDecided(ctx context.Context, evt queue.PermissionDecided) error {
	req, err := p.permissions.GetPermission(ctx, evt.PermissionID)
	if err != nil {
		return fmt.Errorf("load permission %s: %w", evt.PermissionID, err)
	}
	n := model.Notification{UserID: req.UserID}
	period := req.DateStart
	if req.DateEnd != "" && req.DateEnd != req.DateStart {
		period += " to " + req.DateEnd
	}
	switch req.Status {
	case model.PermissionApproved:
		n.Type = model.NotificationSuccess
		n.Title = "Permission approved"
		n.Message = fmt.Sprintf("Your %s request for %s was approved.", req.Type, period)
	case model.PermissionRejected:
		n.Type = model.NotificationError
		n.Title = "Permission rejected"
		n.Message = fmt.Sprintf("Your %s request for %s was rejected.", req.Type, period)
	default:
		n.Type = model.NotificationInfo
		n.Title = "Permission updated"
		n.Message = fmt.Sprintf("Your %s request for %s is %s.", req.Type, period, req.Status)
	}
	_, err = p.notes.Create(ctx, n)
	return err
}
