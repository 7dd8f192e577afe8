// Package notify maintains the notification feed and turns queue events into
// notifications.
package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"schoolattendance/internal/metrics"
	"schoolattendance/internal/model"
	"schoolattendance/internal/store"
)

var (
	ErrUserRequired  = errors.New("userId is required")
	ErrTitleRequired = errors.New("title is required")
	ErrInvalidType   = errors.New("type must be info, success, warning or error")
)

// Service wraps the notification store with validation and metrics.
type Service struct {
	store   store.Notifications
	metrics *metrics.Metrics
	logger  logrus.FieldLogger
}

func NewService(st store.Notifications, m *metrics.Metrics, log logrus.FieldLogger) *Service {
	if m == nil {
		m = metrics.Discard()
	}
	return &Service{store: st, metrics: m, logger: log}
}

// Create appends a notification. The store stamps id and timestamp and marks
// it unread whatever the caller sent.
func (s *Service) Create(ctx context.Context, n model.Notification) (model.Notification, error) {
	n.UserID = strings.TrimSpace(n.UserID)
	n.Title = strings.TrimSpace(n.Title)
	if n.UserID == "" {
		return model.Notification{}, ErrUserRequired
	}
	if n.Title == "" {
		return model.Notification{}, ErrTitleRequired
	}
	if n.Type == "" {
		n.Type = model.NotificationInfo
	}
	if !n.Type.Valid() {
		return model.Notification{}, ErrInvalidType
	}
	created, err := s.store.CreateNotification(ctx, n)
	if err != nil {
		return model.Notification{}, err
	}
	s.metrics.Notifications.WithLabelValues(string(created.Type)).Inc()
	return created, nil
}

// ListForUser returns userID's feed, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]model.Notification, error) {
	return s.store.ListNotifications(ctx, userID)
}

// MarkAllRead flags every notification of userID as read.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	n, err := s.store.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.logger.WithFields(logrus.Fields{"user_id": userID, "count": n}).Debug("notifications marked read")
	return n, nil
}
