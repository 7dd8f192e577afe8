// Package attendance records check-ins and check-outs.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"schoolattendance/internal/geofence"
	"schoolattendance/internal/metrics"
	"schoolattendance/internal/model"
	"schoolattendance/internal/photo"
	"schoolattendance/internal/queue"
	"schoolattendance/internal/store"
)

var (
	ErrOutOfRange       = errors.New("position is outside the school radius")
	ErrInvalidDirection = errors.New("type must be \"in\" or \"out\"")
	ErrPhotoRequired    = errors.New("a selfie is required")
)

// DayLayout is the format of AttendanceRecord.Day.
const DayLayout = "2006-01-02"

// Config tunes the service.
type Config struct {
	Location         *time.Location
	WeakSignalMeters float64
	MaxPhotoBytes    int
}

// Service coordinates the geofence guard, the once-per-day policy and the
// attendance.recorded event.
type Service struct {
	records   store.Attendance
	settings  store.Settings
	queue     queue.Queue
	metrics   *metrics.Metrics
	loc       *time.Location
	evaluator geofence.Evaluator
	maxPhoto  int
	now       func() time.Time
	logger    logrus.FieldLogger
}

// NewService creates a service. A nil queue disables event publishing.
func NewService(records store.Attendance, settings store.Settings, q queue.Queue, m *metrics.Metrics, cfg Config, log logrus.FieldLogger) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Service{
		records:   records,
		settings:  settings,
		queue:     q,
		metrics:   m,
		loc:       loc,
		evaluator: geofence.NewEvaluator(cfg.WeakSignalMeters),
		maxPhoto:  cfg.MaxPhotoBytes,
		now:       time.Now,
		logger:    log,
	}
}

// Location is the timezone days and punctuality are computed in.
func (s *Service) Location() *time.Location { return s.loc }

// Evaluator is the geofence evaluator shared with sessions.
func (s *Service) Evaluator() geofence.Evaluator { return s.evaluator }

// Now returns the current time in the service timezone.
func (s *Service) Now() time.Time { return s.now().In(s.loc) }

// Day returns the local calendar date of t.
func (s *Service) Day(t time.Time) string { return t.In(s.loc).Format(DayLayout) }

// Fence builds the school geofence from the current settings.
func (s *Service) Fence(ctx context.Context) (geofence.Fence, model.Settings, error) {
	st, err := s.settings.GetSettings(ctx)
	if err != nil {
		return geofence.Fence{}, model.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	fence := geofence.Fence{
		Center: geofence.Point{Lat: st.SchoolLocation.Lat, Lng: st.SchoolLocation.Lng},
		Radius: st.SchoolLocation.Radius,
	}
	return fence, st, nil
}

// Check evaluates a fix against the current school fence.
func (s *Service) Check(ctx context.Context, fix geofence.Fix) (geofence.Evaluation, error) {
	fence, _, err := s.Fence(ctx)
	if err != nil {
		return geofence.Evaluation{}, err
	}
	if err := fence.Validate(); err != nil {
		return geofence.Evaluation{}, err
	}
	return s.evaluator.Evaluate(fix, fence), nil
}

// Record validates and stores a check-in or check-out for user. The server
// clock sets the timestamp; the caller's draft supplies direction, photo and
// position.
func (s *Service) Record(ctx context.Context, user model.User, draft model.AttendanceRecord) (model.AttendanceRecord, error) {
	if !draft.Type.Valid() {
		return model.AttendanceRecord{}, ErrInvalidDirection
	}
	if strings.TrimSpace(draft.Photo) == "" {
		return model.AttendanceRecord{}, ErrPhotoRequired
	}
	if strings.HasPrefix(draft.Photo, "data:") {
		if err := photo.Validate(draft.Photo, s.maxPhoto); err != nil {
			return model.AttendanceRecord{}, err
		}
	}

	fence, st, err := s.Fence(ctx)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	ev := s.evaluator.Evaluate(geofence.Fix{Point: geofence.Point{Lat: draft.Location.Lat, Lng: draft.Location.Lng}}, fence)
	if !ev.InRange {
		s.metrics.GeofenceRejections.Inc()
		return model.AttendanceRecord{}, fmt.Errorf("%w: %.0fm from school, limit %.0fm", ErrOutOfRange, ev.DistanceMeters, ev.Radius)
	}

	now := s.Now()
	rec := model.AttendanceRecord{
		UserID:    user.ID,
		UserName:  user.Name,
		Timestamp: now,
		Day:       now.Format(DayLayout),
		Type:      draft.Type,
		Photo:     draft.Photo,
		Location:  draft.Location,
	}
	if rec.Location.Address == "" {
		rec.Location.Address = st.SchoolLocation.Address
	}

	stored, err := s.records.CreateAttendance(ctx, rec)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyRecorded) {
			s.metrics.DuplicateAttempts.Inc()
		}
		return model.AttendanceRecord{}, err
	}
	s.metrics.Submissions.WithLabelValues(string(stored.Type)).Inc()

	log := s.logger.WithFields(logrus.Fields{
		"record_id": stored.ID,
		"user_id":   stored.UserID,
		"type":      stored.Type,
		"distance":  int(ev.DistanceMeters),
	})
	log.Info("attendance recorded")
	s.publish(ctx, stored, log)
	return stored, nil
}

func (s *Service) publish(ctx context.Context, rec model.AttendanceRecord, log logrus.FieldLogger) {
	if s.queue == nil {
		return
	}
	msg, err := queue.Encode(queue.TypeAttendanceRecorded, queue.AttendanceRecorded{
		RecordID:  rec.ID,
		UserID:    rec.UserID,
		Direction: string(rec.Type),
		Timestamp: rec.Timestamp,
	})
	if err == nil {
		err = s.queue.Publish(ctx, msg)
	}
	if err != nil {
		log.WithError(err).Warn("queue publish failed")
	}
}

// TodayStatus lists the records of the current local day.
type TodayStatus struct {
	Day      string                  `json:"day"`
	CheckIn  *model.AttendanceRecord `json:"checkIn"`
	CheckOut *model.AttendanceRecord `json:"checkOut"`
}

// Completed returns the directions already recorded.
func (t TodayStatus) Completed() []model.Direction {
	var out []model.Direction
	if t.CheckIn != nil {
		out = append(out, model.DirectionIn)
	}
	if t.CheckOut != nil {
		out = append(out, model.DirectionOut)
	}
	return out
}

// Today reports what userID has recorded on the current local day.
func (s *Service) Today(ctx context.Context, userID string) (TodayStatus, error) {
	day := s.Now().Format(DayLayout)
	recs, err := s.records.ListAttendance(ctx, store.AttendanceFilter{UserID: userID, Day: day})
	if err != nil {
		return TodayStatus{}, err
	}
	status := TodayStatus{Day: day}
	for i := range recs {
		rec := recs[i]
		switch rec.Type {
		case model.DirectionIn:
			status.CheckIn = &rec
		case model.DirectionOut:
			status.CheckOut = &rec
		}
	}
	return status, nil
}
