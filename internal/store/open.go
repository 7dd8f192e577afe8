package store

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"schoolattendance/internal/config"
)

// Open builds the backend selected by cfg.StoreBackend.
func Open(ctx context.Context, cfg config.App, log logrus.FieldLogger) (Store, error) {
	switch cfg.StoreBackend {
	case "postgres":
		st, err := NewPostgres(ctx, cfg.DatabaseURL, cfg.NotificationCap)
		if err != nil {
			return nil, err
		}
		log.Info("postgres store initialized")
		return st, nil
	case "sqlite", "":
		return NewSQLite(cfg.SQLitePath, cfg.NotificationCap, log)
	case "file":
		return NewFile(cfg.DataFile, cfg.NotificationCap, log)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
