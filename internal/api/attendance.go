package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/geofence"
	"schoolattendance/internal/model"
	"schoolattendance/internal/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func validDay(day string) bool {
	if day == "" {
		return true
	}
	_, err := time.Parse(attendance.DayLayout, day)
	return err == nil
}

func (s *Server) attendanceFilter(c *gin.Context, me model.User) (store.AttendanceFilter, bool) {
	f := store.AttendanceFilter{
		UserID: scopeUser(me, c.Query("userId")),
		Day:    c.Query("date"),
	}
	if !validDay(f.Day) {
		s.fail(c, invalid("date must be YYYY-MM-DD"))
		return f, false
	}
	return f, true
}

func (s *Server) listAttendance(c *gin.Context) {
	me, ok := s.caller(c)
	if !ok {
		return
	}
	f, ok := s.attendanceFilter(c, me)
	if !ok {
		return
	}
	recs, err := s.store.ListAttendance(c.Request.Context(), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

type attendanceRequest struct {
	Type     model.Direction `json:"type" binding:"required"`
	Photo    string          `json:"photo"`
	Location model.Location  `json:"location"`
}

func (s *Server) createAttendance(c *gin.Context) {
	me, ok := s.caller(c)
	if !ok {
		return
	}
	var req attendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badJSON(c, err)
		return
	}
	rec, err := s.attendance.Record(c.Request.Context(), me, model.AttendanceRecord{
		Type:     req.Type,
		Photo:    req.Photo,
		Location: req.Location,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) todayAttendance(c *gin.Context) {
	me, ok := s.caller(c)
	if !ok {
		return
	}
	status, err := s.attendance.Today(c.Request.Context(), me.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) exportAttendance(c *gin.Context) {
	me, ok := s.caller(c)
	if !ok {
		return
	}
	f, ok := s.attendanceFilter(c, me)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := s.reports.ExportAttendance(c.Request.Context(), &buf, f); err != nil {
		s.fail(c, err)
		return
	}
	name := "attendance-" + s.attendance.Now().Format(attendance.DayLayout) + ".xlsx"
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

type fixRequest struct {
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Accuracy float64  `json:"accuracy"`
}

func (r fixRequest) fix() (geofence.Fix, error) {
	if r.Lat == nil || r.Lng == nil {
		return geofence.Fix{}, invalid("lat and lng are required")
	}
	if *r.Lat < -90 || *r.Lat > 90 || *r.Lng < -180 || *r.Lng > 180 {
		return geofence.Fix{}, invalid("coordinates out of range")
	}
	if r.Accuracy < 0 {
		return geofence.Fix{}, invalid("accuracy must not be negative")
	}
	return geofence.Fix{Point: geofence.Point{Lat: *r.Lat, Lng: *r.Lng}, Accuracy: r.Accuracy}, nil
}

type evaluationResponse struct {
	geofence.Evaluation
	Message string `json:"message"`
}

func (s *Server) checkGeofence(c *gin.Context) {
	var req fixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badJSON(c, err)
		return
	}
	fix, err := req.fix()
	if err != nil {
		s.fail(c, err)
		return
	}
	ev, err := s.attendance.Check(c.Request.Context(), fix)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, evaluationResponse{Evaluation: ev, Message: ev.Describe()})
}
