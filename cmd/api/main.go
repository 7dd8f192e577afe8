package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"schoolattendance/internal/api"
	"schoolattendance/internal/attendance"
	"schoolattendance/internal/auth"
	"schoolattendance/internal/cloudinary"
	"schoolattendance/internal/config"
	"schoolattendance/internal/httpmiddleware"
	"schoolattendance/internal/logging"
	"schoolattendance/internal/metrics"
	"schoolattendance/internal/model"
	"schoolattendance/internal/notify"
	"schoolattendance/internal/queue"
	"schoolattendance/internal/report"
	"schoolattendance/internal/session"
	"schoolattendance/internal/store"
)

const queueKey = "attendance:events"

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.WithError(err).Fatal("http server failed")
	}
}

func runHTTP(cfg config.App, log *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := seed(ctx, cfg, st, log); err != nil {
		return err
	}

	var rdb *store.Redis
	if cfg.QueueBackend == "redis" || cfg.SessionBackend == "redis" {
		rdb = store.NewRedis(cfg.RedisAddr)
		defer rdb.Close()
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	loc := cfg.Location()

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		q = queue.NewRedisQueue(rdb.Client, queueKey, log)
	} else {
		q = queue.NewInMemory(256)
	}

	att := attendance.NewService(st, st, q, m, attendance.Config{
		Location:         loc,
		WeakSignalMeters: cfg.WeakSignalMeters,
		MaxPhotoBytes:    cfg.MaxPhotoBytes,
	}, log)
	notes := notify.NewService(st, m, log)

	// Cloudinary client (nil when not configured)
	var uploader notify.Uploader
	if cfg.CloudinaryEnabled() {
		uploader = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.WithField("cloud", cfg.CloudinaryCloudName).Info("cloudinary configured")
	} else {
		log.Info("cloudinary not configured, photos stay inline")
	}

	// with the memory queue events are handled in this process
	if cfg.QueueBackend != "redis" {
		proc := notify.NewProcessor(notes, st, uploader, loc, m, log)
		go func() {
			if err := proc.Run(ctx, q); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("event processor stopped")
			}
		}()
	}

	var sessions session.Store
	if cfg.SessionBackend == "redis" {
		sessions = session.NewRedisStore(rdb.Client, "attendance:session:", cfg.SessionTTL)
	} else {
		mem := session.NewMemoryStore(cfg.SessionTTL)
		sessions = mem
		go every(ctx, time.Minute, func() { mem.Sweep() })
	}

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	go every(ctx, 5*time.Minute, func() { limiter.Sweep(10 * time.Minute) })

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.AccessLog(log, "/healthz", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:   []string{"Content-Disposition"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(limiter.ByIP())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		dbHealthy := st.Ping(c.Request.Context()) == nil
		body := gin.H{"status": "ok", "db": dbHealthy}
		healthy := dbHealthy
		if rdb != nil {
			redisHealthy := rdb.Healthy(c.Request.Context())
			body["redis"] = redisHealthy
			healthy = healthy && redisHealthy
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
		c.JSON(status, body)
	})

	api.New(api.Config{
		JWTIssuer:            cfg.JWTIssuer,
		JWTSigningKey:        cfg.JWTSigningKey,
		AccessTTL:            cfg.AccessTTL,
		LoginRateLimitPerMin: cfg.LoginRateLimitPerMin,
		MaxPhotoBytes:        cfg.MaxPhotoBytes,
	}, api.Deps{
		Store:      st,
		Attendance: att,
		Notify:     notes,
		Reports:    report.New(st, loc),
		Sessions:   sessions,
		Queue:      q,
		Metrics:    m,
		Logger:     log,
	}).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"port": cfg.HTTPPort, "store": cfg.StoreBackend, "queue": cfg.QueueBackend}).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server forced shutdown")
	}
	log.Info("server exited")
	return nil
}

func every(ctx context.Context, d time.Duration, fn func()) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

type seedUser struct {
	name     string
	role     model.Role
	nip      string
	password string
}

var demoUsers = []seedUser{
	{"Budi Santoso, M.Pd", model.RoleAdmin, "198501012010011001", "password123"},
	{"Siti Aminah, S.Si", model.RoleTeacher, "199002022015012002", "password123"},
	{"Andi Wijaya", model.RoleStaff, "198803032012011003", "password123"},
}

// seed fills an empty user collection with the configured admin and, when
// enabled, the demo accounts.
func seed(ctx context.Context, cfg config.App, st store.Users, log logrus.FieldLogger) error {
	accounts := []seedUser{{"Administrator", model.RoleAdmin, cfg.AdminNIP, cfg.AdminPassword}}
	if cfg.SeedDemoUsers {
		accounts = append(accounts, demoUsers...)
	}
	users := make([]model.User, 0, len(accounts))
	for _, a := range accounts {
		hash, err := auth.HashPassword(a.password)
		if err != nil {
			return err
		}
		users = append(users, model.User{Name: a.name, Role: a.role, NIP: a.nip, PasswordHash: hash})
	}
	n, err := store.SeedUsers(ctx, st, users)
	if err != nil {
		return err
	}
	if n > 0 {
		log.WithField("users", n).Info("seeded initial accounts")
		if cfg.Production() && cfg.AdminPassword == "admin" {
			log.Warn("default admin password in use; set ADMIN_PASSWORD")
		}
	}
	return nil
}
