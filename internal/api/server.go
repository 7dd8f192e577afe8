// Package api exposes the attendance service over HTTP (gin).
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/auth"
	"schoolattendance/internal/httpmiddleware"
	"schoolattendance/internal/metrics"
	"schoolattendance/internal/model"
	"schoolattendance/internal/notify"
	"schoolattendance/internal/queue"
	"schoolattendance/internal/report"
	"schoolattendance/internal/session"
	"schoolattendance/internal/store"
)

// Config holds the HTTP-facing settings.
type Config struct {
	JWTIssuer            string
	JWTSigningKey        string
	AccessTTL            time.Duration
	LoginRateLimitPerMin int
	MaxPhotoBytes        int
}

// Deps are the collaborators of the handlers. Queue may be nil.
type Deps struct {
	Store      store.Store
	Attendance *attendance.Service
	Notify     *notify.Service
	Reports    *report.Reporter
	Sessions   session.Store
	Queue      queue.Queue
	Metrics    *metrics.Metrics
	Logger     logrus.FieldLogger
}

// Server implements the /api routes.
type Server struct {
	cfg        Config
	store      store.Store
	attendance *attendance.Service
	notify     *notify.Service
	reports    *report.Reporter
	sessions   session.Store
	queue      queue.Queue
	metrics    *metrics.Metrics
	logger     logrus.FieldLogger
}

func New(cfg Config, d Deps) *Server {
	m := d.Metrics
	if m == nil {
		m = metrics.Discard()
	}
	return &Server{
		cfg:        cfg,
		store:      d.Store,
		attendance: d.Attendance,
		notify:     d.Notify,
		reports:    d.Reports,
		sessions:   d.Sessions,
		queue:      d.Queue,
		metrics:    m,
		logger:     d.Logger,
	}
}

// Register mounts every route on r.
func (s *Server) Register(r gin.IRouter) {
	api := r.Group("/api")

	login := []gin.HandlerFunc{}
	if s.cfg.LoginRateLimitPerMin > 0 {
		login = append(login, httpmiddleware.NewTokenBucket(s.cfg.LoginRateLimitPerMin, s.cfg.LoginRateLimitPerMin).ByIP())
	}
	api.POST("/login", append(login, s.login)...)

	user := api.Group("", auth.Required(s.cfg.JWTSigningKey, s.cfg.JWTIssuer), s.authenticated)
	admin := user.Group("", auth.AdminOnly(s.callerRole))

	user.GET("/users", s.listUsers)
	admin.POST("/users", s.createUser)
	admin.DELETE("/users/:id", s.deleteUser)

	user.GET("/attendance", s.listAttendance)
	user.POST("/attendance", s.createAttendance)
	user.GET("/attendance/today", s.todayAttendance)
	admin.GET("/attendance/export", s.exportAttendance)
	user.POST("/geofence/check", s.checkGeofence)

	user.GET("/journals", s.listJournals)
	user.POST("/journals", s.createJournal)
	user.DELETE("/journals/:id", s.deleteJournal)

	user.GET("/permissions", s.listPermissions)
	user.POST("/permissions", s.createPermission)
	admin.PATCH("/permissions/:id", s.updatePermission)

	user.GET("/settings", s.getSettings)
	admin.PUT("/settings", s.replaceSettings)

	user.GET("/notifications/:userId", s.listNotifications)
	user.POST("/notifications", s.createNotification)
	user.PATCH("/notifications/read-all/:userId", s.markNotificationsRead)

	sessions := user.Group("/sessions")
	sessions.POST("", s.startSession)
	sessions.GET("/:id", s.getSession)
	sessions.POST("/:id/direction", s.chooseDirection)
	sessions.POST("/:id/position", s.reportPosition)
	sessions.POST("/:id/confirm", s.confirmLocation)
	sessions.POST("/:id/back", s.backToDirection)
	sessions.POST("/:id/photo", s.attachPhoto)
	sessions.POST("/:id/retake", s.retakePhoto)
	sessions.POST("/:id/submit", s.submitSession)

	user.GET("/dashboard", s.dashboard)
	admin.GET("/admin/summary", s.adminSummary)
}

const callerKey = "caller"

// caller loads the authenticated user once per request. A deleted account is
// treated as logged out.
func (s *Server) caller(c *gin.Context) (model.User, bool) {
	if v, ok := c.Get(callerKey); ok {
		if u, ok := v.(model.User); ok {
			return u, true
		}
	}
	claims, ok := auth.FromContext(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return model.User{}, false
	}
	u, err := s.store.GetUser(c.Request.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account no longer exists"})
			return model.User{}, false
		}
		s.fail(c, err)
		return model.User{}, false
	}
	c.Set(callerKey, u)
	return u, true
}

// authenticated rejects tokens whose account is gone.
func (s *Server) authenticated(c *gin.Context) {
	if _, ok := s.caller(c); ok {
		c.Next()
	}
}

func (s *Server) callerRole(c *gin.Context) (model.Role, bool) {
	u, ok := s.caller(c)
	return u.Role, ok
}

// scopeUser returns the user id a listing may cover: admins may ask for anyone
// (or everyone with ""), others only see their own records.
func scopeUser(u model.User, requested string) string {
	if u.Role == model.RoleAdmin {
		return requested
	}
	return u.ID
}

// ownsOrAdmin aborts with 403 unless u is owner or an admin.
func ownsOrAdmin(c *gin.Context, u model.User, owner string) bool {
	if u.Role == model.RoleAdmin || u.ID == owner {
		return true
	}
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not allowed"})
	return false
}
