package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"ktransport/internal/authclient"
	"ktransport/internal/config"
	"ktransport/internal/directory"
	"ktransport/internal/kvstore"
	"ktransport/internal/logger"
)

type app struct {
	cfg    config.Client
	log    *slog.Logger
	out    io.Writer
	store  kvstore.Store
	redis  *redis.Client
	client *authclient.Client
	closer func() error
}

func newApp(stderr io.Writer) (*app, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logger.SetupText(stderr, cfg.LogLevel), closer: func() error { return nil }}

	switch cfg.Store {
	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o700); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		store, err := kvstore.OpenSQLite(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		a.store, a.closer = store, store.Close
	case config.StoreRedis:
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := a.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = a.redis.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		store, err := kvstore.NewRedis(a.redis, cfg.RedisNamespace)
		if err != nil {
			_ = a.redis.Close()
			return nil, err
		}
		a.store, a.closer = store, a.redis.Close
	default:
		a.store = kvstore.NewMemory()
	}

	opts := []authclient.Option{
		authclient.WithLogger(a.log),
		authclient.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
	}
	if cfg.Demo {
		opts = append(opts, authclient.WithDirectory(directory.NewDemo()))
	}
	a.client = authclient.New(cfg.APIURL, a.store, opts...)
	return a, nil
}

func (a *app) Close() {
	if err := a.closer(); err != nil {
		a.log.Warn("close store", slog.String("error", err.Error()))
	}
}

// describe turns client errors into the line shown to the user.
func describe(err error) error {
	var apiErr *authclient.APIError
	switch {
	case errors.Is(err, authclient.ErrNotConfigured):
		return errors.New("no backend configured, set KTRANSPORT_API_URL")
	case errors.As(err, &apiErr):
		return errors.New(apiErr.Error())
	default:
		return err
	}
}
