package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/geofence"
	"schoolattendance/internal/notify"
	"schoolattendance/internal/photo"
	"schoolattendance/internal/session"
	"schoolattendance/internal/store"
)

// validationError is a 400 with a caller-facing message.
type validationError struct{ msg string }

func (e validationError) Error() string { return e.msg }

func invalid(msg string) error { return validationError{msg: msg} }

func statusFor(err error) int {
	var (
		ve validationError
		pe *geofence.PositionError
		ce *session.CameraError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateNIP),
		errors.Is(err, store.ErrAlreadyRecorded),
		errors.Is(err, session.ErrDirectionCompleted):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrOutOfRange),
		errors.Is(err, session.ErrOutOfRange),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrSessionClosed),
		errors.Is(err, session.ErrNoFix),
		errors.Is(err, session.ErrNoPhoto),
		errors.As(err, &pe),
		errors.As(err, &ce):
		return http.StatusUnprocessableEntity
	case errors.Is(err, attendance.ErrInvalidDirection),
		errors.Is(err, attendance.ErrPhotoRequired),
		errors.Is(err, session.ErrInvalidDirection),
		errors.Is(err, photo.ErrInvalidDataURI),
		errors.Is(err, photo.ErrUnsupportedType),
		errors.Is(err, photo.ErrTooLarge),
		errors.Is(err, notify.ErrUserRequired),
		errors.Is(err, notify.ErrTitleRequired),
		errors.Is(err, notify.ErrInvalidType),
		errors.Is(err, geofence.ErrInvalidRadius):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail writes err as {"error": ...}. Unexpected errors are logged and hidden.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"route":  c.FullPath(),
		}).Error("request failed")
		_ = c.Error(err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	body := gin.H{"error": err.Error()}
	var pe *geofence.PositionError
	if errors.As(err, &pe) {
		body["kind"] = pe.Kind.String()
	}
	var ce *session.CameraError
	if errors.As(err, &ce) {
		body["retryable"] = ce.Retryable()
	}
	c.AbortWithStatusJSON(status, body)
}

func (s *Server) badJSON(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
