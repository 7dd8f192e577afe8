package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"schoolattendance/internal/geofence"
	"schoolattendance/internal/model"
	"schoolattendance/internal/photo"
	"schoolattendance/internal/session"
)

// A session lives in the session store between requests; every handler
// restores it, applies one transition and saves it back.

type sessionView struct {
	ID         string                  `json:"id"`
	State      session.State           `json:"state"`
	Direction  model.Direction         `json:"direction,omitempty"`
	Options    []session.Option        `json:"options"`
	Evaluation *evaluationResponse     `json:"evaluation,omitempty"`
	HasPhoto   bool                    `json:"hasPhoto"`
	Record     *model.AttendanceRecord `json:"record,omitempty"`
}

func viewOf(sess *session.Session) sessionView {
	v := sessionView{
		ID:        sess.ID(),
		State:     sess.State(),
		Direction: sess.Direction(),
		Options:   sess.Options(),
		HasPhoto:  sess.HasPhoto(),
	}
	if ev, ok := sess.LastEvaluation(); ok {
		v.Evaluation = &evaluationResponse{Evaluation: ev, Message: ev.Describe()}
	}
	if rec, ok := sess.Record(); ok {
		v.Record = &rec
	}
	return v
}

func (s *Server) startSession(c *gin.Context) {
	me, ok := s.caller(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	today, err := s.attendance.Today(ctx, me.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	fence, _, err := s.attendance.Fence(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	sess := session.New(me, fence, today.Completed(), s.attendance.Now)
	sess.UseEvaluator(s.attendance.Evaluator())
	if err := s.sessions.Save(ctx, sess.Snapshot()); err != nil {
		s.fail(c, err)
		return
	}
	s.metrics.Sessions.WithLabelValues("started").Inc()
	c.JSON(http.StatusCreated, viewOf(sess))
}

// loadSession restores the caller's session. Sessions of other users are
// reported as missing.
func (s *Server) loadSession(c *gin.Context) (*session.Session, bool) {
	me, ok := s.caller(c)
	if !ok {
		return nil, false
	}
	snap, err := s.sessions.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	if snap.User.ID != me.ID {
		s.fail(c, session.ErrNotFound)
		return nil, false
	}
	return session.Restore(snap, s.attendance.Now), true
}

func (s *Server) saveSession(c *gin.Context, sess *session.Session, status int) {
	if err := s.sessions.Save(c.Request.Context(), sess.Snapshot()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(status, viewOf(sess))
}

// step runs one transition and persists the result.
func (s *Server) step(c *gin.Context, apply func(*session.Session) error) {
	sess, ok := s.loadSession(c)
	if !ok {
		return
	}
	if err := apply(sess); err != nil {
		s.fail(c, err)
		return
	}
	s.saveSession(c, sess, http.StatusOK)
}

func (s *Server) getSession(c *gin.Context) {
	sess, ok := s.loadSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, viewOf(sess))
}

type directionRequest struct {
	Direction model.Direction `json:"direction" binding:"required"`
}

func (s *Server) chooseDirection(c *gin.Context) {
	var req directionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badJSON(c, err)
		return
	}
	s.step(c, func(sess *session.Session) error { return sess.Choose(req.Direction) })
}

// positionRequest carries either a fix or a geolocation error code.
type positionRequest struct {
	fixRequest
	Error string `json:"error"`
}

func (s *Server) reportPosition(c *gin.Context) {
	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badJSON(c, err)
		return
	}
	if req.Error != "" {
		pe, err := geofence.ParsePositionErrorCode(req.Error)
		if err != nil {
			s.fail(c, invalid(err.Error()))
			return
		}
		s.fail(c, pe)
		return
	}
	fix, err := req.fix()
	if err != nil {
		s.fail(c, err)
		return
	}
	s.step(c, func(sess *session.Session) error {
		_, err := sess.Observe(fix)
		return err
	})
}

func (s *Server) confirmLocation(c *gin.Context) {
	s.step(c, (*session.Session).ConfirmLocation)
}

func (s *Server) backToDirection(c *gin.Context) {
	s.step(c, (*session.Session).Back)
}

type photoRequest struct {
	Photo string `json:"photo"`
	Stamp bool   `json:"stamp"`
}

func (s *Server) attachPhoto(c *gin.Context) {
	var req photoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badJSON(c, err)
		return
	}
	if req.Photo != "" {
		if err := photo.Validate(req.Photo, s.cfg.MaxPhotoBytes); err != nil {
			s.fail(c, err)
			return
		}
	}
	s.step(c, func(sess *session.Session) error {
		if req.Stamp && req.Photo != "" {
			return sess.AttachStamped(req.Photo, s.cfg.MaxPhotoBytes)
		}
		return sess.AttachPhoto(req.Photo)
	})
}

func (s *Server) retakePhoto(c *gin.Context) {
	s.step(c, (*session.Session).Retake)
}

func (s *Server) submitSession(c *gin.Context) {
	sess, ok := s.loadSession(c)
	if !ok {
		return
	}
	if _, err := sess.Submit(c.Request.Context(), s.attendance); err != nil {
		s.fail(c, err)
		return
	}
	s.metrics.Sessions.WithLabelValues("submitted").Inc()
	s.saveSession(c, sess, http.StatusCreated)
}
