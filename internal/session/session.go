// Package session sequences one check-in or check-out:
// SelectDirection, VerifyLocation, CapturePhoto, Submitted.
//
// A Session is safe for concurrent use; Track typically runs in its own
// goroutine while the caller confirms or backs out.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"schoolattendance/internal/geofence"
	"schoolattendance/internal/model"
)

// State is a step of the flow.
type State string

const (
	SelectDirection State = "select_direction"
	VerifyLocation  State = "verify_location"
	CapturePhoto    State = "capture_photo"
	Submitted       State = "submitted"
)

var (
	ErrInvalidTransition  = errors.New("operation not allowed in the current step")
	ErrDirectionCompleted = errors.New("this direction is already recorded today")
	ErrInvalidDirection   = errors.New("direction must be \"in\" or \"out\"")
	ErrNoFix              = errors.New("no position received yet")
	ErrOutOfRange         = errors.New("position is outside the school radius")
	ErrNoPhoto            = errors.New("no photo captured")
	ErrSessionClosed      = errors.New("session already submitted; start a new one")
)

// Option is a selectable direction.
type Option struct {
	Direction model.Direction `json:"direction"`
	Completed bool            `json:"completed"`
}

// Recorder persists the packaged record.
type Recorder interface {
	Record(ctx context.Context, user model.User, draft model.AttendanceRecord) (model.AttendanceRecord, error)
}

// Session is one attendance flow for one user.
type Session struct {
	mu sync.Mutex

	id        string
	user      model.User
	fence     geofence.Fence
	evaluator geofence.Evaluator
	completed map[model.Direction]bool
	clock     func() time.Time
	createdAt time.Time

	state     State
	direction model.Direction
	lastFix   *geofence.Fix
	lastEval  *geofence.Evaluation
	photo     string
	record    *model.AttendanceRecord

	// closed when the session leaves VerifyLocation
	leave chan struct{}
}

// New starts a session in SelectDirection. completedToday lists the directions
// the user already recorded today. A nil clock means time.Now.
func New(user model.User, fence geofence.Fence, completedToday []model.Direction, clock func() time.Time) *Session {
	if clock == nil {
		clock = time.Now
	}
	done := make(map[model.Direction]bool, 2)
	for _, d := range completedToday {
		done[d] = true
	}
	return &Session{
		id:        uuid.NewString(),
		user:      user,
		fence:     fence,
		evaluator: geofence.NewEvaluator(geofence.DefaultWeakSignalMeters),
		completed: done,
		clock:     clock,
		createdAt: clock(),
		state:     SelectDirection,
	}
}

// UseEvaluator replaces the geofence evaluator (weak-signal threshold).
func (s *Session) UseEvaluator(e geofence.Evaluator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluator = e
}

func (s *Session) ID() string { return s.id }

func (s *Session) User() model.User { return s.user }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Direction() model.Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direction
}

// Options lists both directions, flagging the ones already recorded today.
func (s *Session) Options() []Option {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []Option{
		{Direction: model.DirectionIn, Completed: s.completed[model.DirectionIn]},
		{Direction: model.DirectionOut, Completed: s.completed[model.DirectionOut]},
	}
}

// LastEvaluation returns the evaluation of the latest fix, if any.
func (s *Session) LastEvaluation() (geofence.Evaluation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastEval == nil {
		return geofence.Evaluation{}, false
	}
	return *s.lastEval, true
}

func (s *Session) require(want State) error {
	if s.state == Submitted {
		return ErrSessionClosed
	}
	if s.state != want {
		return fmt.Errorf("%w: in %s, want %s", ErrInvalidTransition, s.state, want)
	}
	return nil
}

func (s *Session) enterVerify() {
	s.state = VerifyLocation
	s.lastFix, s.lastEval = nil, nil
	s.leave = make(chan struct{})
}

func (s *Session) exitVerify(next State) {
	s.state = next
	if s.leave != nil {
		close(s.leave)
		s.leave = nil
	}
}

// Choose selects a direction and moves to VerifyLocation.
func (s *Session) Choose(d model.Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require(SelectDirection); err != nil {
		return err
	}
	if !d.Valid() {
		return ErrInvalidDirection
	}
	if s.completed[d] {
		return ErrDirectionCompleted
	}
	s.direction = d
	s.enterVerify()
	return nil
}

// Observe evaluates a fix. Repeating a fix yields the same evaluation.
func (s *Session) Observe(fix geofence.Fix) (geofence.Evaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require(VerifyLocation); err != nil {
		return geofence.Evaluation{}, err
	}
	ev := s.evaluator.Evaluate(fix, s.fence)
	s.lastFix, s.lastEval = &fix, &ev
	return ev, nil
}

// ConfirmLocation advances to CapturePhoto when the latest fix is in range.
func (s *Session) ConfirmLocation() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require(VerifyLocation); err != nil {
		return err
	}
	if s.lastEval == nil {
		return ErrNoFix
	}
	if !s.lastEval.InRange {
		return ErrOutOfRange
	}
	s.exitVerify(CapturePhoto)
	return nil
}

// Back returns from VerifyLocation to SelectDirection.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require(VerifyLocation); err != nil {
		return err
	}
	s.exitVerify(SelectDirection)
	s.direction = ""
	s.lastFix, s.lastEval = nil, nil
	return nil
}

// AttachPhoto stores the captured frame as a data URI.
func (s *Session) AttachPhoto(photo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require(CapturePhoto); err != nil {
		return err
	}
	if photo == "" {
		return ErrNoPhoto
	}
	s.photo = photo
	return nil
}

// Retake discards the captured frame.
func (s *Session) Retake() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require(CapturePhoto); err != nil {
		return err
	}
	s.photo = ""
	return nil
}

// HasPhoto reports whether a frame is attached.
func (s *Session) HasPhoto() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.photo != ""
}

// Submit packages the record and hands it to r. The session becomes terminal
// only when r succeeds; on error it stays in CapturePhoto.
func (s *Session) Submit(ctx context.Context, r Recorder) (model.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require(CapturePhoto); err != nil {
		return model.AttendanceRecord{}, err
	}
	if s.photo == "" {
		return model.AttendanceRecord{}, ErrNoPhoto
	}
	draft := model.AttendanceRecord{
		UserID:    s.user.ID,
		UserName:  s.user.Name,
		Timestamp: s.clock(),
		Type:      s.direction,
		Photo:     s.photo,
		Location:  model.Location{Lat: s.lastFix.Lat, Lng: s.lastFix.Lng},
	}
	rec, err := r.Record(ctx, s.user, draft)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	s.state = Submitted
	s.record = &rec
	s.completed[rec.Type] = true
	return rec, nil
}

// Record returns the stored record once submitted.
func (s *Session) Record() (model.AttendanceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return model.AttendanceRecord{}, false
	}
	return *s.record, true
}

// leaving returns a channel closed when the session leaves VerifyLocation,
// or nil when it is not in VerifyLocation.
func (s *Session) leaving() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != VerifyLocation {
		return nil
	}
	return s.leave
}
