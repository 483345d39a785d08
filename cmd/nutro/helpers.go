package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/apkuzmin/nutro-bot/internal/app"
	"github.com/apkuzmin/nutro-bot/internal/pool"
)

func resolveDataDir() (string, error) {
	if dataDir != "" {
		return dataDir, nil
	}
	return app.DefaultDataDir()
}

func withManager(ctx context.Context, run func(*pool.Manager) error) error {
	dir, err := resolveDataDir()
	if err != nil {
		return err
	}
	if err := app.EnsureDataDir(dir); err != nil {
		return err
	}
	mgr := pool.NewManager(dir, pool.Config{}, logrus.StandardLogger())
	defer mgr.CloseAll()

	if err := mgr.Migrate(ctx); err != nil {
		return err
	}
	return run(mgr)
}
