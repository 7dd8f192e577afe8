package session

import (
	"time"

	"schoolattendance/internal/geofence"
	"schoolattendance/internal/model"
)

// Snapshot is the serializable form of a Session.
type Snapshot struct {
	ID               string                  `json:"id"`
	User             SnapshotUser            `json:"user"`
	Fence            geofence.Fence          `json:"fence"`
	WeakSignalMeters float64                 `json:"weakSignalMeters"`
	Completed        []model.Direction       `json:"completed"`
	CreatedAt        time.Time               `json:"createdAt"`
	State            State                   `json:"state"`
	Direction        model.Direction         `json:"direction,omitempty"`
	LastFix          *geofence.Fix           `json:"lastFix,omitempty"`
	LastEvaluation   *geofence.Evaluation    `json:"lastEvaluation,omitempty"`
	Photo            string                  `json:"photo,omitempty"`
	Record           *model.AttendanceRecord `json:"record,omitempty"`
}

// SnapshotUser is the part of the user a session needs.
type SnapshotUser struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Role model.Role `json:"role"`
}

// Snapshot captures the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:               s.id,
		User:             SnapshotUser{ID: s.user.ID, Name: s.user.Name, Role: s.user.Role},
		Fence:            s.fence,
		WeakSignalMeters: s.evaluator.WeakSignalMeters,
		CreatedAt:        s.createdAt,
		State:            s.state,
		Direction:        s.direction,
		Photo:            s.photo,
	}
	for _, d := range []model.Direction{model.DirectionIn, model.DirectionOut} {
		if s.completed[d] {
			snap.Completed = append(snap.Completed, d)
		}
	}
	if s.lastFix != nil {
		fix := *s.lastFix
		snap.LastFix = &fix
	}
	if s.lastEval != nil {
		ev := *s.lastEval
		snap.LastEvaluation = &ev
	}
	if s.record != nil {
		rec := *s.record
		snap.Record = &rec
	}
	return snap
}

// Restore rebuilds a session from a snapshot.
func Restore(snap Snapshot, clock func() time.Time) *Session {
	if clock == nil {
		clock = time.Now
	}
	s := &Session{
		id:        snap.ID,
		user:      model.User{ID: snap.User.ID, Name: snap.User.Name, Role: snap.User.Role},
		fence:     snap.Fence,
		evaluator: geofence.NewEvaluator(snap.WeakSignalMeters),
		completed: make(map[model.Direction]bool, 2),
		clock:     clock,
		createdAt: snap.CreatedAt,
		state:     snap.State,
		direction: snap.Direction,
		photo:     snap.Photo,
	}
	if s.state == "" {
		s.state = SelectDirection
	}
	for _, d := range snap.Completed {
		s.completed[d] = true
	}
	if snap.LastFix != nil {
		fix := *snap.LastFix
		s.lastFix = &fix
	}
	if snap.LastEvaluation != nil {
		ev := *snap.LastEvaluation
		s.lastEval = &ev
	}
	if snap.Record != nil {
		rec := *snap.Record
		s.record = &rec
	}
	if s.state == VerifyLocation {
		s.leave = make(chan struct{})
	}
	return s
}
