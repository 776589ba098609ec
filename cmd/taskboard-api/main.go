package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"taskboard/api"
	"taskboard/config"
	"taskboard/identity"
	"taskboard/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	cfg.ConfigureLogging()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	rc := redis.NewClient(cfg.RedisOptions())
	defer rc.Close()

	tables, err := storage.New(cfg.StorageConnectionString, cfg.TasksTable, cfg.UsersTable, cfg.ChangesQueue, storage.NewRedisSequence(rc))
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	store := storage.NewCache(tables, rc, cfg.TaskCacheTTL, cfg.TaskUpdatesChannel)

	var (
		auth     *api.Auth
		accounts api.Accounts
	)
	if cfg.LocalAuth() {
		secret := []byte(cfg.LocalSecret)
		auth = api.NewLocalAuth(secret, cfg.Auth0Audience, "")
		accounts = identity.NewProvider(tables, secret,
			identity.WithIssuer("", cfg.Auth0Audience),
			identity.WithTokenTTL(cfg.SessionTTL))
	} else {
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, cfg.Auth0Audience, cfg.Issuer())
	}

	logger := log.StandardLogger()
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
		AllowCredentials: false,
	}))
	e.Use(api.GzipRequestMiddleware())
	e.Use(echoprometheus.NewMiddleware("taskboard"))
	e.GET("/metrics", echoprometheus.NewHandler())

	registry := api.Register(e, api.Deps{
		Store:      store,
		Feed:       store,
		Auth:       auth,
		Accounts:   accounts,
		Deduper:    api.NewRedisDeduper(rc, cfg.DeduperTTL),
		Logger:     logger,
		SessionTTL: cfg.SessionTTL,
		Health: func(ctx context.Context) error {
			return rc.Ping(ctx).Err()
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go api.SubscribeUpdates(ctx, logger, rc, cfg.TaskUpdatesChannel, registry)
	go registry.RunJanitor(ctx, cfg.SessionIdle)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
}
