package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cms-backend/internal/auth"
	"cms-backend/internal/branches"
	"cms-backend/internal/config"
	"cms-backend/internal/database"
	"cms-backend/internal/logging"
	"cms-backend/internal/mail"
	"cms-backend/internal/media"
	"cms-backend/internal/metrics"
	"cms-backend/internal/scheduler"
	"cms-backend/internal/server"
	"cms-backend/internal/users"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, warnings, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	for _, w := range warnings {
		log.Warn(w)
	}

	db, err := database.Open(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	if err := database.Migrate(db); err != nil {
		log.WithError(err).Fatal("migration failed")
	}
	log.Info("database migration completed")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var limiter auth.ResetLimiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Ping(ctx).Err(); err != nil {
			cancel()
			log.WithError(err).Fatal("redis connection failed")
		}
		cancel()
		defer client.Close()
		limiter = auth.NewRedisLimiter(client, cfg.ResetCooldown)
		log.WithField("addr", cfg.RedisAddr).Info("using redis reset limiter")
	} else {
		limiter = auth.NewMemoryLimiter(cfg.ResetCooldown, nil)
	}

	var mailer mail.Sender
	if cfg.SendGridAPIKey != "" {
		mailer = mail.NewSendGridSender(cfg.SendGridAPIKey, cfg.MailFrom)
	} else {
		log.Warn("SENDGRID_API_KEY not set, emails are written to the log")
		mailer = mail.LogSender{Log: log}
	}

	hasher := auth.BcryptHasher{Cost: cfg.BcryptCost}
	tokens := auth.NewJWTIssuer(cfg.JWTSecret, nil)

	creds := auth.NewCredentialService(auth.CredentialDeps{
		DB:             db,
		Hasher:         hasher,
		Tokens:         tokens,
		Limiter:        limiter,
		Mailer:         mailer,
		Log:            log,
		Metrics:        m,
		AccessTokenTTL: cfg.AccessTokenTTL,
		ResetTokenTTL:  cfg.ResetTokenTTL,
	})
	userSvc := users.NewService(users.Deps{
		DB:     db,
		Hasher: hasher,
		Images: media.NewDiskStore(cfg.PictureDir, cfg.PictureMaxBytes),
		Log:    log,
	})

	sched := scheduler.New(creds, limiter, log, nil)
	if err := sched.Schedule(cfg.PurgeSchedule); err != nil {
		log.WithError(err).Fatal("invalid PURGE_SCHEDULE")
	}
	sched.Start()

	app := server.New(server.Deps{
		DB:              db,
		Log:             log,
		Tokens:          tokens,
		Credentials:     creds,
		Users:           userSvc,
		Branches:        branches.NewService(db, log),
		Gatherer:        reg,
		CORSOrigins:     cfg.CORSOrigins,
		DBTimeout:       cfg.DBTimeout,
		PictureMaxBytes: cfg.PictureMaxBytes,
	})

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Warn("http shutdown")
		}
	}()

	log.WithField("port", cfg.HTTPPort).Info("server listening")
	if err := app.Listen(":" + cfg.HTTPPort); err != nil {
		log.WithError(err).Error("server stopped")
	}

	sched.Stop()
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
