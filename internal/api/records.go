package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/geofence"
	"schoolattendance/internal/model"
	"schoolattendance/internal/photo"
	"schoolattendance/internal/punctuality"
	"schoolattendance/internal/queue"
	"schoolattendance/internal/store"
)

// ---------- Journals ----------

type journalRequest struct {
	Date      string          `json:"date"`
	Subject   string          `json:"subject" binding:"required"`
	ClassName string          `json:"className" binding:"required"`
	Material  string          `json:"material"`
	Notes     string          `json:"notes"`
	Photo     string          `json:"photo"`
	Location  *model.Location `json:"location"`
}

func (s *Server) listJournals(c *gin.Context) {
	me, ok := s.caller(c)
	if !ok {
		return
	}
	entries, err := s.store.ListJournals(c.Request.Context(), scopeUser(me, c.Query("userId")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) createJournal(c *gin.Context) {
	me, ok := s.caller(c)
	if !ok {
		return
	}
	var req journalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badJSON(c, err)
		return
	}
	if req.Date == "" {
		req.Date = s.attendance.Now().Format(attendance.DayLayout)
	}
	if !validDay(req.Date) {
		s.fail(c, invalid("date must be YYYY-MM-DD"))
		return
	}
	if strings.HasPrefix(req.Photo, "data:") {
		if err := photo.Validate(req.Photo, s.cfg.MaxPhotoBytes); err != nil {
			s.fail(c, err)
			return
		}
	}
	entry, err := s.store.CreateJournal(c.Request.Context(), model.JournalEntry{
		UserID:    me.ID,
		Date:      req.Date,
		Subject:   strings.TrimSpace(req.Subject),
		ClassName: strings.TrimSpace(req.ClassName),
		Material:  req.Material,
		Notes:     req.Notes,
		Photo:     req.Photo,
		Location:  req.Location,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (s *Server) deleteJournal(c *gin.Context) {
	me, ok := s.caller(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	entry, err := s.store.GetJournal(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !ownsOrAdmin(c, me, entry.UserID) {
		return
	}
	if err := s.store.DeleteJournal(ctx, entry.ID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ---------- Permissions ----------

type permissionRequest struct {
	Type       model.PermissionType `json:"type" binding:"required"`
	DateStart  string               `json:"dateStart" binding:"required"`
	DateEnd    string               `json:"dateEnd"`
	Reason     string               `json:"reason" binding:"required"`
	Attachment string               `json:"attachment"`
}

func (s *Server) listPermissions(c *gin.Context) {
	me, ok := s.caller(c)
	if !ok {
		return
	}
	f := store.PermissionFilter{
		UserID: scopeUser(me, c.Query("userId")),
		Status: model.PermissionStatus(c.Query("status")),
	}
	perms, err := s.store.ListPermissions(c.Request.Context(), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, perms)
}

func (s *Server) createPermission(c *gin.Context) {
	me, ok := s.caller(c)
	if !ok {
		return
	}
	var req permissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badJSON(c, err)
		return
	}
	if !req.Type.Valid() {
		s.fail(c, invalid("type must be sick, leave or duty"))
		return
	}
	if req.DateEnd == "" {
		req.DateEnd = req.DateStart
	}
	start, err1 := time.Parse(attendance.DayLayout, req.DateStart)
	end, err2 := time.Parse(attendance.DayLayout, req.DateEnd)
	if err1 != nil || err2 != nil {
		s.fail(c, invalid("dateStart and dateEnd must be YYYY-MM-DD"))
		return
	}
	if end.Before(start) {
		s.fail(c, invalid("dateEnd must not be before dateStart"))
		return
	}
	p, err := s.store.CreatePermission(c.Request.Context(), model.PermissionRequest{
		UserID:     me.ID,
		UserName:   me.Name,
		Type:       req.Type,
		DateStart:  req.DateStart,
		DateEnd:    req.DateEnd,
		Reason:     strings.TrimSpace(req.Reason),
		Attachment: req.Attachment,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

type permissionStatusRequest struct {
	Status model.PermissionStatus `json:"status" binding:"required"`
}

func (s *Server) updatePermission(c *gin.Context) {
	var req permissionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badJSON(c, err)
		return
	}
	if !req.Status.Decision() && req.Status != model.PermissionPending {
		s.fail(c, invalid("status must be Pending, Approved or Rejected"))
		return
	}
	ctx := c.Request.Context()
	p, err := s.store.UpdatePermissionStatus(ctx, c.Param("id"), req.Status)
	if err != nil {
		s.fail(c, err)
		return
	}
	log := s.logger.WithFields(logrus.Fields{"permission_id": p.ID, "status": p.Status})
	log.Info("permission updated")
	if p.Status.Decision() {
		s.publishDecision(ctx, p, log)
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) publishDecision(ctx context.Context, p model.PermissionRequest, log logrus.FieldLogger) {
	if s.queue == nil {
		return
	}
	msg, err := queue.Encode(queue.TypePermissionDecided, queue.PermissionDecided{
		PermissionID: p.ID,
		UserID:       p.UserID,
		Status:       string(p.Status),
	})
	if err == nil {
		err = s.queue.Publish(ctx, msg)
	}
	if err != nil {
		log.WithError(err).Warn("queue publish failed")
	}
}

// ---------- Settings ----------

func (s *Server) getSettings(c *gin.Context) {
	st, err := s.store.GetSettings(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func validateSettings(st model.Settings) error {
	loc := st.SchoolLocation
	if loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
		return invalid("school coordinates out of range")
	}
	fence := geofence.Fence{Center: geofence.Point{Lat: loc.Lat, Lng: loc.Lng}, Radius: loc.Radius}
	if err := fence.Validate(); err != nil {
		return err
	}
	if err := punctuality.ValidateHours(st.AttendanceHours); err != nil {
		return invalid(err.Error())
	}
	return nil
}

func (s *Server) replaceSettings(c *gin.Context) {
	var req model.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badJSON(c, err)
		return
	}
	if err := validateSettings(req); err != nil {
		s.fail(c, err)
		return
	}
	st, err := s.store.ReplaceSettings(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.logger.WithField("version", st.Version).Info("settings replaced")
	c.JSON(http.StatusOK, st)
}

// ---------- Notifications ----------

func (s *Server) listNotifications(c *gin.Context) {
	me, ok := s.caller(c)
	if !ok {
		return
	}
	userID := c.Param("userId")
	if !ownsOrAdmin(c, me, userID) {
		return
	}
	notes, err := s.notify.ListForUser(c.Request.Context(), userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, notes)
}

type notificationRequest struct {
	UserID  string                 `json:"userId"`
	Title   string                 `json:"title"`
	Message string                 `json:"message"`
	Type    model.NotificationType `json:"type"`
}

func (s *Server) createNotification(c *gin.Context) {
	me, ok := s.caller(c)
	if !ok {
		return
	}
	var req notificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badJSON(c, err)
		return
	}
	if req.UserID == "" {
		req.UserID = me.ID
	}
	if !ownsOrAdmin(c, me, req.UserID) {
		return
	}
	n, err := s.notify.Create(c.Request.Context(), model.Notification{
		UserID:  req.UserID,
		Title:   req.Title,
		Message: req.Message,
		Type:    req.Type,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

func (s *Server) markNotificationsRead(c *gin.Context) {
	me, ok := s.caller(c)
	if !ok {
		return
	}
	userID := c.Param("userId")
	if !ownsOrAdmin(c, me, userID) {
		return
	}
	n, err := s.notify.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "updated": n})
}

// ---------- Dashboards ----------

func (s *Server) dashboard(c *gin.Context) {
	me, ok := s.caller(c)
	if !ok {
		return
	}
	d, err := s.reports.Dashboard(c.Request.Context(), me.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) adminSummary(c *gin.Context) {
	sum, err := s.reports.Summary(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
