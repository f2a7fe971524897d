package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	auth "github.com/theycallmecoach/auth-server"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(log); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

func run(log *logrus.Logger) error {
	cfg, err := Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logrusAdapter{log: log}

	db, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := auth.CreateSchema(ctx, db); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	repo := auth.NewRepositoryManager(db)
	repo.MustValidate()

	tokens := auth.NewTokenService(
		repo.Tokens(),
		[]byte(cfg.Auth.SigningKey),
		cfg.Auth.TokenExpiration,
		cfg.Auth.RefreshExpiration,
		cfg.Auth.Issuer,
		cfg.Auth.Audience,
		logger,
	)

	mailer := buildMailer(cfg, logger)
	if closer, ok := mailer.(*auth.AsyncMailer); ok {
		defer closer.Close()
	}

	activity := activitySink(log)
	revoker := auth.NewTokenRevoker(repo.Tokens()).WithLogger(logger)

	service := auth.NewAccountService(repo, cfg).
		WithMailer(mailer).
		WithRevoker(revoker).
		WithActivitySink(activity).
		WithLogger(logger)

	auther := auth.NewAuthenticator(repo.Users(), tokens).
		WithActivitySink(activity).
		WithLogger(logger)

	app := fiber.New(fiber.Config{
		AppName:      "auth-server",
		ErrorHandler: fiberErrorHandler(logger),
	})

	controller := auth.NewAuthController(
		auth.WithAccountService(service),
		auth.WithAuthenticator(auther),
		auth.WithTokenService(tokens),
		auth.WithRepository(repo),
		auth.WithTokenRevoker(revoker),
		auth.WithControllerLogger(logger),
	)
	auth.RegisterAuthRoutes(app, controller)

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Server.Addr)
		errCh <- app.Listen(cfg.Server.Addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Infof("received %s, shutting down", sig)
		return app.ShutdownWithTimeout(10 * time.Second)
	}
}

func openDatabase(path string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, fmt.Sprintf("file:%s?cache=shared", path))
	if err != nil {
		return nil, err
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}

func buildMailer(cfg Config, logger auth.Logger) auth.Mailer {
	if cfg.Email.APIURL == "" {
		return auth.NewLogMailer(logger)
	}

	sender := auth.NewHTTPMailer(&http.Client{Timeout: 15 * time.Second}, cfg.Email.APIURL, cfg.Email.ServerToken)
	return auth.NewAsyncMailer(sender, logger)
}

func fiberErrorHandler(logger auth.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		if code >= fiber.StatusInternalServerError {
			logger.Error("unhandled error on %s %s: %v", c.Method(), c.Path(), err)
		}

		return c.Status(code).JSON(fiber.Map{"error": err.Error()})
	}
}

func activitySink(log *logrus.Logger) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(_ context.Context, event auth.ActivityEvent) error {
		log.WithFields(logrus.Fields{
			"event":   event.EventType,
			"user_id": event.UserID,
			"email":   event.Email,
		}).Info("activity")
		return nil
	})
}

type logrusAdapter struct {
	log *logrus.Logger
}

func (l logrusAdapter) Debug(format string, args ...any) { l.log.Debugf(format, args...) }
func (l logrusAdapter) Info(format string, args ...any)  { l.log.Infof(format, args...) }
func (l logrusAdapter) Warn(format string, args ...any)  { l.log.Warnf(format, args...) }
func (l logrusAdapter) Error(format string, args ...any) { l.log.Errorf(format, args...) }
